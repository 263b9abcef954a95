// Package results records completed job records. TextLog appends one line
// per record to a daily text file; Ledger keeps every timestamp in SQLite
// for the results command; Multi validates a record and fans it out.
package results
