package stageexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/services"
	"mediaindex/internal/stage"
)

// Options controls execution of one stage for one record.
type Options struct {
	Logger  *slog.Logger
	Service mediasvc.Service
	Handler stage.Handler
	Record  *jobrecord.Record
}

// Run executes a stage handler for a record. On failure every remote asset
// the record still references is released and its key material cleared
// before the error is returned, so a dropped record leaves nothing behind.
func Run(ctx context.Context, opts Options) error {
	if opts.Handler == nil {
		return errors.New("stage handler unavailable")
	}
	if opts.Record == nil {
		return errors.New("job record is required")
	}
	name := opts.Handler.Name()
	rec := opts.Record

	stageCtx := services.WithRecordID(services.WithStage(ctx, name), rec.ID)
	stageLogger := logging.WithContext(stageCtx, opts.Logger).With(logging.String(logging.FieldFile, rec.FileName()))

	stageLogger.Debug("stage started", logging.String(logging.FieldEventType, "stage_start"))
	started := time.Now()

	err := runHandler(stageCtx, opts.Handler, rec)
	if err == nil {
		stageLogger.Info("stage completed",
			logging.String(logging.FieldEventType, "stage_complete"),
			logging.Duration("elapsed", time.Since(started)),
		)
		return nil
	}

	if opts.Service != nil {
		stage.Discard(stageCtx, opts.Service, rec, stageLogger)
	}
	details := services.Details(err)
	attrs := []logging.Attr{
		logging.Error(err),
		logging.String("error_kind", details.Kind),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.Duration("elapsed", time.Since(started)),
	}
	if errors.Is(err, services.ErrJobCanceled) {
		logging.WarnWithContext(stageLogger, "stage ended without result", "stage_canceled",
			append(attrs, logging.String(logging.FieldImpact, "file is not indexed"))...)
	} else {
		logging.ErrorWithContext(stageLogger, "stage failed", "stage_failure", attrs...)
	}
	return err
}

func runHandler(ctx context.Context, handler stage.Handler, rec *jobrecord.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s stage panic: %v", handler.Name(), r)
		}
	}()
	return handler.Execute(ctx, rec)
}
