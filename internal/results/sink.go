package results

import (
	"context"
	"errors"
	"fmt"

	"mediaindex/internal/jobrecord"
)

// Sink consumes completed records.
type Sink interface {
	Consume(ctx context.Context, rec *jobrecord.Record) error
}

// Multi validates each record and passes it to every sink. A record that
// fails validation reaches none of them.
type Multi []Sink

// Consume implements Sink.
func (m Multi) Consume(ctx context.Context, rec *jobrecord.Record) error {
	if rec == nil {
		return errors.New("nil record")
	}
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("record %s: %w", rec.FileName(), err)
	}
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.Consume(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
