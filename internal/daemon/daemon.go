package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"mediaindex/internal/config"
	"mediaindex/internal/download"
	"mediaindex/internal/intake"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/pipeline"
)

// ErrAlreadyRunning is returned by Start when another process holds the
// daemon lock.
var ErrAlreadyRunning = errors.New("another mediaindex daemon instance is already running")

// ErrStopped is returned by operations after Stop.
var ErrStopped = errors.New("daemon stopped")

// Daemon owns intake and the pipeline and enforces single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	pipeline *pipeline.Pipeline
	watcher  *intake.Watcher

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	stopOnce sync.Once
	stopErr  error
	done     chan struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	LedgerPath   string
	SourceDir    string
	Pipeline     pipeline.Status
}

// New constructs a daemon whose pipeline delivers completed records to sink.
// Uploaded source files are moved to the processed directory.
func New(cfg *config.Config, svc mediasvc.Service, sink download.Sink, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || svc == nil || sink == nil {
		return nil, errors.New("daemon requires config, media service, and results sink")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.DaemonLockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		done:     make(chan struct{}),
	}
	d.pipeline = pipeline.New(cfg, svc, sink, logger, pipeline.Hooks{
		OnUploaded: func(path string) { d.watcher.MarkUploaded(path) },
	})
	d.watcher = intake.NewWatcher(cfg, d.pipeline, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the pipeline and then intake.
func (d *Daemon) Start(ctx context.Context) error {
	select {
	case <-d.done:
		return ErrStopped
	default:
	}
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	if err := d.pipeline.Start(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("start pipeline: %w", err)
	}
	if err := d.watcher.Start(ctx); err != nil {
		_ = d.pipeline.Shutdown(context.WithoutCancel(ctx))
		_ = d.lock.Unlock()
		return fmt.Errorf("start intake: %w", err)
	}
	d.running.Store(true)
	d.logger.Info("mediaindex daemon started",
		logging.String(logging.FieldEventType, "daemon_start"),
		logging.String("lock_path", d.lockPath),
		logging.String("source_dir", d.cfg.Paths.SourceDir),
	)
	return nil
}

// Stop ends intake, drains the pipeline stage by stage and releases the
// lock. Only the first call does the work; later calls return its result.
func (d *Daemon) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		defer close(d.done)
		if !d.running.Load() {
			return
		}
		d.logger.Info("mediaindex daemon stopping",
			logging.String(logging.FieldEventType, "daemon_stopping"))
		d.watcher.Stop()
		if err := d.pipeline.Shutdown(ctx); err != nil {
			d.stopErr = fmt.Errorf("drain pipeline: %w", err)
			logging.ErrorWithContext(d.logger, "pipeline drain incomplete", "daemon_drain_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "remote assets of interrupted records may need manual deletion"),
			)
		}
		d.running.Store(false)
		if err := d.lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock",
				logging.Error(err),
				logging.String(logging.FieldEventType, "daemon_unlock_failed"),
				logging.String(logging.FieldErrorHint, "remove the lock file if the next start fails"),
				logging.String(logging.FieldImpact, "next start may report another instance"),
			)
		}
		d.logger.Info("mediaindex daemon stopped",
			logging.String(logging.FieldEventType, "daemon_stop"))
	})
	return d.stopErr
}

// Done is closed once Stop has finished.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Close releases the lock if it is still held.
func (d *Daemon) Close() {
	if d.lock != nil && d.lock.Locked() {
		_ = d.lock.Unlock()
	}
}

// Submit hands a file to the pipeline the same way intake does: it is moved
// into the processing directory first.
func (d *Daemon) Submit(sourcePath string) error {
	if !d.running.Load() {
		return pipeline.ErrNotRunning
	}
	trimmed := strings.TrimSpace(sourcePath)
	if trimmed == "" {
		return errors.New("source path is required")
	}
	absPath, err := filepath.Abs(trimmed)
	if err != nil {
		return fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("stat source file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("source path %q is not a regular file", absPath)
	}
	if err := d.watcher.Claim(absPath); err != nil {
		return err
	}
	d.logger.Info("manual file submitted",
		logging.String(logging.FieldFile, filepath.Base(absPath)),
		logging.String(logging.FieldEventType, "manual_submit"),
	)
	return nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	return Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		LedgerPath:   d.cfg.LedgerPath(),
		SourceDir:    d.cfg.Paths.SourceDir,
		Pipeline:     d.pipeline.Status(ctx),
	}
}
