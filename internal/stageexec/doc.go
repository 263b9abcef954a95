// Package stageexec runs a stage handler for a single job record with the
// logging and failure cleanup every stage shares.
package stageexec
