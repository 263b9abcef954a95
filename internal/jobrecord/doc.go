// Package jobrecord holds the per-file record that flows through the
// upload, indexing, and download stages.
//
// A Record owns at most one live input asset reference, one live output
// asset reference, and the content key material captured while the input
// asset's key is removed remotely. Taking a reference clears it, so a
// deleted asset can never be deleted twice, and ClearKey zeroes key bytes in
// place. Six stage-transition timestamps prove the key exposure window; Stamp
// keeps them non-decreasing and Validate checks a completed record before it
// is recorded.
package jobrecord
