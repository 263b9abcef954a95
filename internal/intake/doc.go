// Package intake discovers media files in the source directory and feeds
// them to the pipeline. A file is claimed by moving it into the processing
// directory before submission, and moved on to the processed directory once
// its upload has completed. Files whose upload fails stay in the processing
// directory for an operator to inspect.
package intake
