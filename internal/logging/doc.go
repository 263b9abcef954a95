// Package logging assembles structured slog loggers and formatting helpers used
// across mediaindex.
//
// It owns the console and JSON handlers, fans records out to the terminal and
// the daily daemon log file, and exposes context-aware helpers so stage code
// tags log lines with job record IDs and stage names. The package also provides a no-op logger for tests and wiring code that cannot
// fail.
package logging
