// Package daemon coordinates the long-running mediaindex process.
//
// It wires the intake watcher and the stage pipeline into a single lifecycle
// guarded by a flock-based lock so only one instance works on a set of
// directories. Stop drains the pipeline stage by stage before releasing the
// lock. Manual submissions from the CLI enter through Submit and follow the
// same claim path as files discovered by intake.
//
// Keep orchestration here; stage behaviour lives in the stage packages.
package daemon
