package services

import "context"

type contextKey int

const (
	recordIDKey contextKey = iota
	stageKey
)

// WithRecordID annotates ctx with the job record identifier. An empty id
// leaves ctx unchanged.
func WithRecordID(ctx context.Context, id string) context.Context {
	return withValue(ctx, recordIDKey, id)
}

// RecordIDFromContext extracts the job record identifier if present.
func RecordIDFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, recordIDKey)
}

// WithStage annotates ctx with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	return withValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	return lookup(ctx, stageKey)
}

func withValue(ctx context.Context, key contextKey, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, key, value)
}

func lookup(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok && v != ""
}
