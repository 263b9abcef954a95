// Package daemonrun assembles the daemon process: logging, preflight, the
// results sinks, the media service backend, the daemon and its IPC server.
package daemonrun
