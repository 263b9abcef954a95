// Package main hosts the mediaindex CLI entrypoint and command graph.
//
// The Cobra-based command tree runs the daemon in the foreground, translates
// terminal invocations into IPC calls against a running daemon, reads the
// results ledger, and scaffolds configuration. Configuration resolution and
// socket discovery live here so subcommands stay small.
package main
