// Package download implements the final pipeline stage. It copies every
// file of a finished job's output asset into the output directory, deletes
// the output asset, and hands the completed record to the results sink.
package download
