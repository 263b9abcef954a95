// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management and the request/response types. Add new
// endpoints by extending both the service and the client so the CLI and the
// daemon stay in step.
package ipc
