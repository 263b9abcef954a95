package testsupport

import (
	"path/filepath"
	"testing"
	"time"

	"mediaindex/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test
// and timings short enough for the emulator to finish jobs in milliseconds.
// Every configured directory exists when it returns.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths = config.Paths{
		SourceDir:     filepath.Join(base, "inbox"),
		ProcessingDir: filepath.Join(base, "processing"),
		ProcessedDir:  filepath.Join(base, "processed"),
		OutputDir:     filepath.Join(base, "output"),
		ResultsDir:    filepath.Join(base, "results"),
		LogDir:        filepath.Join(base, "logs"),
	}
	cfgVal.Upload.Concurrency = 2
	cfgVal.Indexing.Concurrency = 2
	cfgVal.Indexing.ReservedUnits = 2
	cfgVal.Indexing.PollIntervalMS = 2
	cfgVal.Download.Concurrency = 2
	cfgVal.Pipeline.DispatchIntervalMS = 5
	cfgVal.Emulator.ScheduleDelayMS = 1
	cfgVal.Emulator.ProcessingTimeMS = 25

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	return builder.cfg
}

// WithReservedUnits sets the remote quota and the indexing pool size.
func WithReservedUnits(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Indexing.ReservedUnits = n
		b.cfg.Indexing.Concurrency = n
	}
}

// WithConcurrency overrides the per-stage worker limits.
func WithConcurrency(upload, indexing, download int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Upload.Concurrency = upload
		b.cfg.Indexing.Concurrency = indexing
		b.cfg.Download.Concurrency = download
	}
}

// WithJobTimings overrides how long emulated jobs stay Scheduled and
// Processing.
func WithJobTimings(schedule, processing time.Duration) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Emulator.ScheduleDelayMS = int(schedule / time.Millisecond)
		b.cfg.Emulator.ProcessingTimeMS = int(processing / time.Millisecond)
	}
}

// WithRestoreKeyOn selects the job state that triggers key restoration.
func WithRestoreKeyOn(state string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Indexing.RestoreKeyOn = state
	}
}

// WithTaskConfigFile points the indexing stage at a task configuration file.
func WithTaskConfigFile(path string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Indexing.TaskConfigFile = path
	}
}

// WithMaxInFlight sets the pipeline admission cap.
func WithMaxInFlight(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.MaxInFlight = n
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.SourceDir)
}
