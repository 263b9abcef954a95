// Package indexing implements the pipeline's middle stage. For each uploaded
// record it creates and submits a remote indexing job, follows the job's
// state by polling, restores the content key just before the job reads its
// input, and deletes the input asset as soon as the job reaches a terminal
// state.
//
// The reserved-unit quota is declared once by Prepare; Execute refuses to
// submit jobs until it has succeeded.
package indexing
