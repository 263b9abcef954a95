// Package stage defines the contract shared by the upload, indexing, and
// download stages, plus the cleanup helpers every stage uses to release
// remote assets when an item leaves the pipeline early.
package stage
