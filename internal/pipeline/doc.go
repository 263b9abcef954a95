// Package pipeline wires the upload, indexing and download stages into a
// chain of worker pools: upload → indexing → download → results sink.
//
// Submit never blocks. Admission is bounded by pipeline.max_in_flight, the
// number of records queued or running across all three stages; inside the
// chain the hand-off between stages is unbounded. Shutdown drains the
// stages strictly in order so every submitted remote job reaches a terminal
// state and is cleaned up before the process exits.
package pipeline
