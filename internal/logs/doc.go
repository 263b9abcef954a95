// Package logs reads the daemon's log files for the CLI.
//
// Last returns the trailing lines of a file with bounded memory and Follow
// polls for lines appended after an offset until its context ends. Both
// treat a missing file as empty so `mediaindex logs` works before the daemon
// has written anything.
package logs
