package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/fileutil"
	"mediaindex/internal/logging"
)

// Submitter accepts claimed files. Available returns how many more files
// Submit would accept now, or a negative number for no limit.
type Submitter interface {
	Submit(path string) error
	Available() int
}

// Watcher polls the source directory.
type Watcher struct {
	sourceDir     string
	processingDir string
	processedDir  string
	pattern       string
	interval      time.Duration
	target        Submitter
	logger        *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// Option customises a Watcher.
type Option func(*Watcher)

// WithPollInterval overrides intake.poll_interval.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// NewWatcher constructs a watcher for the configured intake directories.
func NewWatcher(cfg *config.Config, target Submitter, logger *slog.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		sourceDir:     cfg.Paths.SourceDir,
		processingDir: cfg.Paths.ProcessingDir,
		processedDir:  cfg.Paths.ProcessedDir,
		pattern:       cfg.Intake.Pattern,
		interval:      cfg.IntakePollInterval(),
		target:        target,
		logger:        logging.NewComponentLogger(logger, "intake"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start launches the poll loop. The first scan happens immediately.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("intake watcher already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	go w.loop(loopCtx, w.stopped)
	w.logger.Info("intake watching",
		logging.String("source_dir", w.sourceDir),
		logging.String("pattern", w.pattern),
		logging.Duration("interval", w.interval),
	)
	return nil
}

// Stop ends discovery and waits for an in-progress scan to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (w *Watcher) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		if _, err := w.Scan(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(w.logger, "intake scan failed", "intake_scan_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the source directory exists and is readable"),
				logging.String(logging.FieldImpact, "new files are not picked up"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Scan claims matching files from the source directory, in name order,
// while the target has capacity. It returns the number claimed.
func (w *Watcher) Scan(ctx context.Context) (int, error) {
	candidates, err := w.candidates()
	if err != nil {
		return 0, err
	}
	claimed := 0
	for _, path := range candidates {
		if ctx.Err() != nil || w.target.Available() == 0 {
			break
		}
		if err := w.Claim(path); err != nil {
			logging.WarnWithContext(w.logger, "file not claimed", "intake_claim_failed",
				logging.String(logging.FieldFile, filepath.Base(path)),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the file stays in the source directory and is retried next scan"),
				logging.String(logging.FieldImpact, "file is not processed yet"),
			)
			continue
		}
		claimed++
	}
	return claimed, nil
}

func (w *Watcher) candidates() ([]string, error) {
	entries, err := os.ReadDir(w.sourceDir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if ok, _ := filepath.Match(w.pattern, name); !ok {
			continue
		}
		out = append(out, filepath.Join(w.sourceDir, name))
	}
	sort.Strings(out)
	return out, nil
}

// Claim moves path into the processing directory and submits it. If the
// target refuses it the file is returned to the source directory.
func (w *Watcher) Claim(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}
	claimed, err := fileutil.MoveInto(path, w.processingDir)
	if err != nil {
		return fmt.Errorf("move to processing: %w", err)
	}
	if err := w.target.Submit(claimed); err != nil {
		if _, moveErr := fileutil.MoveInto(claimed, w.sourceDir); moveErr != nil {
			return errors.Join(err, fmt.Errorf("return to source: %w", moveErr))
		}
		return err
	}
	w.logger.Info("file claimed",
		logging.String(logging.FieldFile, filepath.Base(claimed)),
		logging.String(logging.FieldEventType, "file_claimed"),
		logging.Int64("bytes", info.Size()),
	)
	return nil
}

// MarkUploaded moves an uploaded file from the processing directory to the
// processed directory.
func (w *Watcher) MarkUploaded(path string) {
	dst, err := fileutil.MoveInto(path, w.processedDir)
	if err != nil {
		logging.WarnWithContext(w.logger, "uploaded file not moved", "intake_move_failed",
			logging.String(logging.FieldFile, filepath.Base(path)),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "move the file out of the processing directory manually"),
			logging.String(logging.FieldImpact, "processing directory keeps an already uploaded file"),
		)
		return
	}
	w.logger.Debug("uploaded file moved", logging.String(logging.FieldFile, filepath.Base(dst)))
}
