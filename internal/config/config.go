package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories the daemon reads from and writes to.
type Paths struct {
	SourceDir     string `toml:"source_dir"`
	ProcessingDir string `toml:"processing_dir"`
	ProcessedDir  string `toml:"processed_dir"`
	OutputDir     string `toml:"output_dir"`
	ResultsDir    string `toml:"results_dir"`
	LogDir        string `toml:"log_dir"`
}

// Intake controls discovery of new media files.
type Intake struct {
	Pattern      string `toml:"pattern"`
	PollInterval int    `toml:"poll_interval"` // seconds
}

// Upload contains settings for the upload stage.
type Upload struct {
	Concurrency         int  `toml:"concurrency"`
	SerializeAssetSetup bool `toml:"serialize_asset_setup"`
}

// Indexing contains settings for remote job submission and monitoring.
type Indexing struct {
	Concurrency      int    `toml:"concurrency"`
	ReservedUnits    int    `toml:"reserved_units"`
	ReservedUnitType string `toml:"reserved_unit_type"`
	Processor        string `toml:"processor"`
	TaskConfigFile   string `toml:"task_config_file"`
	PollIntervalMS   int    `toml:"poll_interval_ms"`
	// RestoreKeyOn selects the job state that triggers key restoration:
	// "processing" (default) or "scheduled".
	RestoreKeyOn string `toml:"restore_key_on"`
}

// Download contains settings for the download stage.
type Download struct {
	Concurrency  int  `toml:"concurrency"`
	DeleteRemote bool `toml:"delete_remote"`
}

// Pipeline contains cross-stage settings.
type Pipeline struct {
	// MaxInFlight caps queued plus active items across every stage. Zero
	// disables the cap.
	MaxInFlight        int `toml:"max_in_flight"`
	DispatchIntervalMS int `toml:"dispatch_interval_ms"`
}

// Emulator configures the in-process media service backend.
type Emulator struct {
	ScheduleDelayMS  int `toml:"schedule_delay_ms"`
	ProcessingTimeMS int `toml:"processing_time_ms"`
	MaxReservedUnits int `toml:"max_reserved_units"`
}

// Notifications configures ntfy messages for completed files. An empty
// topic disables them.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"` // seconds
	// FailuresOnly limits messages to files with failed downloads.
	FailuresOnly bool `toml:"failures_only"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for mediaindex.
//
// Configuration sections by subsystem:
//   - Paths: watched, staging, output, results and log directories
//   - Intake: source file pattern and discovery interval
//   - Upload / Indexing / Download: per-stage concurrency and behaviour
//   - Pipeline: admission cap and dispatch loop timing
//   - Emulator: timings of the local media service backend
//   - Notifications: optional ntfy topic for completed files
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	Intake        Intake        `toml:"intake"`
	Upload        Upload        `toml:"upload"`
	Indexing      Indexing      `toml:"indexing"`
	Download      Download      `toml:"download"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Emulator      Emulator      `toml:"emulator"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("mediaindex.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// Directories returns every configured directory in a stable order.
func (c *Config) Directories() []string {
	return []string{
		c.Paths.SourceDir,
		c.Paths.ProcessingDir,
		c.Paths.ProcessedDir,
		c.Paths.OutputDir,
		c.Paths.ResultsDir,
		c.Paths.LogDir,
	}
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range c.Directories() {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// IntakePollInterval returns the discovery interval as a duration.
func (c *Config) IntakePollInterval() time.Duration {
	return time.Duration(c.Intake.PollInterval) * time.Second
}

// IndexingPollInterval returns the remote job polling interval.
func (c *Config) IndexingPollInterval() time.Duration {
	return time.Duration(c.Indexing.PollIntervalMS) * time.Millisecond
}

// DispatchInterval returns the upper bound a dispatch loop waits between passes.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Pipeline.DispatchIntervalMS) * time.Millisecond
}

// IndexingPoolSize returns the effective number of concurrent remote jobs:
// the configured concurrency capped by the reserved unit quota.
func (c *Config) IndexingPoolSize() int {
	size := c.Indexing.Concurrency
	if c.Indexing.ReservedUnits > 0 && c.Indexing.ReservedUnits < size {
		size = c.Indexing.ReservedUnits
	}
	if size < 1 {
		size = 1
	}
	return size
}

// DaemonLockPath returns the single-instance lock file location.
func (c *Config) DaemonLockPath() string {
	return filepath.Join(c.Paths.LogDir, "mediaindex.lock")
}

// DaemonSocketPath returns the IPC socket location.
func (c *Config) DaemonSocketPath() string {
	return filepath.Join(c.Paths.LogDir, "mediaindex.sock")
}

// LedgerPath returns the SQLite results ledger location.
func (c *Config) LedgerPath() string {
	return filepath.Join(c.Paths.ResultsDir, "results.db")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
