package config

import (
	"fmt"
	"runtime"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeIntake()
	c.normalizeStages()
	if err := c.normalizeIndexing(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyRequestTimeout
	}
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.source_dir", &c.Paths.SourceDir},
		{"paths.processing_dir", &c.Paths.ProcessingDir},
		{"paths.processed_dir", &c.Paths.ProcessedDir},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.results_dir", &c.Paths.ResultsDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeIntake() {
	c.Intake.Pattern = strings.TrimSpace(c.Intake.Pattern)
	if c.Intake.Pattern == "" {
		c.Intake.Pattern = defaultIntakePattern
	}
}

// normalizeStages resolves zero concurrency values: uploads and downloads
// default to the CPU count, indexing defaults to the reserved unit quota.
func (c *Config) normalizeStages() {
	cpus := runtime.NumCPU()
	if c.Upload.Concurrency <= 0 {
		c.Upload.Concurrency = cpus
	}
	if c.Download.Concurrency <= 0 {
		c.Download.Concurrency = cpus
	}
	if c.Indexing.Concurrency <= 0 {
		c.Indexing.Concurrency = c.Indexing.ReservedUnits
	}
	if c.Pipeline.MaxInFlight < 0 {
		c.Pipeline.MaxInFlight = 0
	}
}

func (c *Config) normalizeIndexing() error {
	c.Indexing.Processor = strings.TrimSpace(c.Indexing.Processor)
	c.Indexing.ReservedUnitType = strings.ToUpper(strings.TrimSpace(c.Indexing.ReservedUnitType))
	if c.Indexing.ReservedUnitType == "" {
		c.Indexing.ReservedUnitType = defaultReservedUnitType
	}
	c.Indexing.RestoreKeyOn = strings.ToLower(strings.TrimSpace(c.Indexing.RestoreKeyOn))
	if c.Indexing.RestoreKeyOn == "" {
		c.Indexing.RestoreKeyOn = defaultRestoreKeyOn
	}
	if trimmed := strings.TrimSpace(c.Indexing.TaskConfigFile); trimmed != "" {
		expanded, err := expandPath(trimmed)
		if err != nil {
			return fmt.Errorf("indexing.task_config_file: %w", err)
		}
		c.Indexing.TaskConfigFile = expanded
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
