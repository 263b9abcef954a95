// Package mediasvc defines the contract between the pipeline and the remote
// media-processing service.
//
// The Service interface covers the four groups of remote operations the
// pipeline depends on: asset and file management, content key management,
// job creation and status, and the reserved processing capacity setting.
// Implementations must be safe for concurrent use; the pipeline shares one
// instance across every stage. Job completion is observed by polling
// JobStatus rather than by subscribing to callbacks.
//
// The emulator subpackage provides an in-process implementation used by the
// daemon's default backend and by tests.
package mediasvc
