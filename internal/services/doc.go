// Package services defines shared utilities consumed by the pipeline stages
// and the media service integration.
//
// Key responsibilities:
//   - Context helpers that carry the job record ID and stage name into log
//     lines.
//   - Structured error markers plus the Wrap helper, and Details/Kind which
//     turn a wrapped error back into a classification and an operator hint.
//
// Use these helpers when wiring new stage logic so failures are reported the
// same way across the pipeline.
package services
