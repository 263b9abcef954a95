package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/download"
	"mediaindex/internal/indexing"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/stage"
	"mediaindex/internal/stageexec"
	"mediaindex/internal/upload"
	"mediaindex/internal/workpool"
)

// ErrBacklogFull is returned by Submit when max_in_flight records are
// already in the pipeline.
var ErrBacklogFull = errors.New("pipeline backlog full")

// ErrNotRunning is returned by Submit before Start or after Shutdown.
var ErrNotRunning = errors.New("pipeline not running")

// Hooks are optional callbacks into the caller.
type Hooks struct {
	// OnUploaded runs after a source file has been uploaded and its key
	// captured.
	OnUploaded func(path string)
}

type recordPool = workpool.Pool[*jobrecord.Record]

// Pipeline owns the three stages and their pools.
type Pipeline struct {
	svc         mediasvc.Service
	logger      *slog.Logger
	maxInFlight int

	uploader   *upload.Uploader
	indexer    *indexing.Indexer
	downloader *download.Downloader

	uploads   *recordPool
	indexes   *recordPool
	downloads *recordPool

	admit    sync.Mutex
	running  bool
	draining bool
}

// StageStatus pairs a stage's pool counters with its health.
type StageStatus struct {
	workpool.Stats
	Health stage.Health
}

// Status is a snapshot of the whole pipeline.
type Status struct {
	Running     bool
	InFlight    int
	MaxInFlight int
	Stages      []StageStatus
}

// New builds the pipeline. Nothing runs until Start.
func New(cfg *config.Config, svc mediasvc.Service, sink download.Sink, logger *slog.Logger, hooks Hooks) *Pipeline {
	p := &Pipeline{
		svc:         svc,
		logger:      logging.NewComponentLogger(logger, "pipeline"),
		maxInFlight: cfg.Pipeline.MaxInFlight,
	}
	p.uploader = upload.NewUploader(cfg, svc, logger, upload.WithUploadedHook(hooks.OnUploaded))
	p.indexer = indexing.NewIndexer(cfg, svc, logger)
	p.downloader = download.NewDownloader(cfg, svc, sink, logger)

	interval := cfg.DispatchInterval()
	p.downloads = p.newPool(p.downloader, cfg.Download.Concurrency, interval, logger, nil)
	p.indexes = p.newPool(p.indexer, cfg.IndexingPoolSize(), interval, logger, p.forwardTo(p.downloads))
	p.uploads = p.newPool(p.uploader, cfg.Upload.Concurrency, interval, logger, p.forwardTo(p.indexes))
	return p
}

func (p *Pipeline) newPool(handler stage.Handler, limit int, interval time.Duration, logger *slog.Logger, next func(*jobrecord.Record)) *recordPool {
	return workpool.New(workpool.Options[*jobrecord.Record]{
		Name:  handler.Name(),
		Limit: limit,
		Work: func(ctx context.Context, rec *jobrecord.Record) error {
			return stageexec.Run(ctx, stageexec.Options{
				Logger:  logger,
				Service: p.svc,
				Handler: handler,
				Record:  rec,
			})
		},
		Next:         next,
		Label:        func(rec *jobrecord.Record) string { return rec.FileName() },
		PollInterval: interval,
		Logger:       logger,
	})
}

// forwardTo hands a record to the next stage's pool. A record the next pool
// refuses is cleaned up here; nothing else still references it.
func (p *Pipeline) forwardTo(pool *recordPool) func(*jobrecord.Record) {
	return func(rec *jobrecord.Record) {
		if err := pool.Submit(rec); err != nil {
			logger := p.logger.With(logging.String(logging.FieldRecordID, rec.ID), logging.String(logging.FieldFile, rec.FileName()))
			logging.ErrorWithContext(logger, "record not forwarded", "forward_failed",
				logging.String("next_stage", pool.Name()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "stages must be drained in pipeline order"),
			)
			stage.Discard(context.Background(), p.svc, rec, logger)
		}
	}
}

// Start declares the reserved-unit quota and then starts every stage. No
// job is submitted if the quota cannot be declared.
func (p *Pipeline) Start(ctx context.Context) error {
	p.admit.Lock()
	defer p.admit.Unlock()
	if p.running {
		return errors.New("pipeline already started")
	}
	if err := p.indexer.Prepare(ctx); err != nil {
		return fmt.Errorf("prepare indexing: %w", err)
	}
	for _, pool := range p.pools() {
		if err := pool.Start(ctx); err != nil {
			return err
		}
	}
	p.running = true
	p.logger.Info("pipeline started",
		logging.String(logging.FieldEventType, "pipeline_start"),
		logging.Int("upload_workers", p.uploads.Limit()),
		logging.Int("indexing_workers", p.indexes.Limit()),
		logging.Int("download_workers", p.downloads.Limit()),
		logging.Int("max_in_flight", p.maxInFlight),
	)
	return nil
}

func (p *Pipeline) pools() []*recordPool {
	return []*recordPool{p.uploads, p.indexes, p.downloads}
}

// Submit admits a source file. It never blocks; it fails with
// ErrBacklogFull when the pipeline is at capacity.
func (p *Pipeline) Submit(path string) error {
	p.admit.Lock()
	defer p.admit.Unlock()
	if !p.running {
		return ErrNotRunning
	}
	if p.maxInFlight > 0 && p.inFlight() >= p.maxInFlight {
		return ErrBacklogFull
	}
	rec := jobrecord.New(path, 0)
	if err := p.uploads.Submit(rec); err != nil {
		return fmt.Errorf("submit %s: %w", rec.FileName(), err)
	}
	p.logger.Debug("file admitted",
		logging.String(logging.FieldRecordID, rec.ID),
		logging.String(logging.FieldFile, rec.FileName()),
	)
	return nil
}

// Available reports how many more files Submit would currently accept. It
// returns -1 when admission is unbounded.
func (p *Pipeline) Available() int {
	p.admit.Lock()
	defer p.admit.Unlock()
	if !p.running {
		return 0
	}
	if p.maxInFlight <= 0 {
		return -1
	}
	return max(p.maxInFlight-p.inFlight(), 0)
}

func (p *Pipeline) inFlight() int {
	total := 0
	for _, pool := range p.pools() {
		total += pool.Pending()
	}
	return total
}

// Shutdown stops admission and drains upload, indexing and download in that
// order. Each stage is empty before the next is drained. If ctx ends first
// the drain is left incomplete and a later call resumes it.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.admit.Lock()
	if !p.running && !p.draining {
		p.admit.Unlock()
		return nil
	}
	p.running = false
	p.draining = true
	p.admit.Unlock()

	for _, pool := range p.pools() {
		if err := pool.Drain(ctx); err != nil {
			return fmt.Errorf("drain %s: %w", pool.Name(), err)
		}
		p.logger.Info("stage drained",
			logging.String(logging.FieldStage, pool.Name()),
			logging.String(logging.FieldEventType, "stage_drained"),
		)
	}
	p.admit.Lock()
	p.draining = false
	p.admit.Unlock()
	return nil
}

// Status returns counters and health for every stage.
func (p *Pipeline) Status(ctx context.Context) Status {
	p.admit.Lock()
	running := p.running
	p.admit.Unlock()

	status := Status{Running: running, MaxInFlight: p.maxInFlight}
	handlers := []stage.Handler{p.uploader, p.indexer, p.downloader}
	for i, pool := range p.pools() {
		stats := pool.Stats()
		status.InFlight += stats.Queued + stats.Active
		status.Stages = append(status.Stages, StageStatus{Stats: stats, Health: handlers[i].HealthCheck(ctx)})
	}
	return status
}
