// Package config loads, normalizes, and validates mediaindex configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and resolves zero concurrency settings to
// machine-derived values. The Config type centralizes every knob the daemon
// and CLI need: watched and output directories, per-stage concurrency, the
// reserved processing quota declared to the media service, and logging.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
