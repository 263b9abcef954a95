package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIntake(); err != nil {
		return err
	}
	if err := c.validateStages(); err != nil {
		return err
	}
	if err := c.validateIndexing(); err != nil {
		return err
	}
	if err := c.validateEmulator(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	named := map[string]string{
		"paths.source_dir":     c.Paths.SourceDir,
		"paths.processing_dir": c.Paths.ProcessingDir,
		"paths.processed_dir":  c.Paths.ProcessedDir,
		"paths.output_dir":     c.Paths.OutputDir,
		"paths.results_dir":    c.Paths.ResultsDir,
		"paths.log_dir":        c.Paths.LogDir,
	}
	for key, value := range named {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	// Claimed files are moved out of the source directory, so the intake
	// directories must be distinct or discovery would pick them up again.
	seen := map[string]string{}
	for _, key := range []string{"paths.source_dir", "paths.processing_dir", "paths.processed_dir"} {
		clean := filepath.Clean(named[key])
		if other, dup := seen[clean]; dup {
			return fmt.Errorf("%s and %s must be different directories", other, key)
		}
		seen[clean] = key
	}
	return nil
}

func (c *Config) validateIntake() error {
	if _, err := filepath.Match(c.Intake.Pattern, "probe"); err != nil {
		return fmt.Errorf("intake.pattern %q: %w", c.Intake.Pattern, err)
	}
	if c.Intake.PollInterval <= 0 {
		return errors.New("intake.poll_interval must be positive")
	}
	return nil
}

func (c *Config) validateStages() error {
	return ensurePositiveMap(map[string]int{
		"upload.concurrency":            c.Upload.Concurrency,
		"indexing.concurrency":          c.Indexing.Concurrency,
		"download.concurrency":          c.Download.Concurrency,
		"pipeline.dispatch_interval_ms": c.Pipeline.DispatchIntervalMS,
	})
}

func (c *Config) validateIndexing() error {
	if c.Indexing.ReservedUnits <= 0 {
		return errors.New("indexing.reserved_units must be positive")
	}
	if c.Indexing.PollIntervalMS <= 0 {
		return errors.New("indexing.poll_interval_ms must be positive")
	}
	if c.Indexing.Processor == "" {
		return errors.New("indexing.processor must be set")
	}
	switch c.Indexing.ReservedUnitType {
	case "S1", "S2", "S3":
	default:
		return fmt.Errorf("indexing.reserved_unit_type must be one of S1, S2, S3 (got %q)", c.Indexing.ReservedUnitType)
	}
	switch c.Indexing.RestoreKeyOn {
	case RestoreOnProcessing, RestoreOnScheduled:
	default:
		return fmt.Errorf("indexing.restore_key_on must be %q or %q (got %q)", RestoreOnProcessing, RestoreOnScheduled, c.Indexing.RestoreKeyOn)
	}
	return nil
}

func (c *Config) validateEmulator() error {
	if c.Emulator.ScheduleDelayMS < 0 || c.Emulator.ProcessingTimeMS < 0 {
		return errors.New("emulator timings must not be negative")
	}
	if c.Emulator.MaxReservedUnits < c.Indexing.ReservedUnits {
		return fmt.Errorf("emulator.max_reserved_units (%d) is below indexing.reserved_units (%d)", c.Emulator.MaxReservedUnits, c.Indexing.ReservedUnits)
	}
	// Key restore is poll-driven, so a Processing phase shorter than one poll
	// can pass unseen and the job finishes without its key.
	if c.Indexing.RestoreKeyOn == RestoreOnProcessing && c.Indexing.PollIntervalMS >= c.Emulator.ProcessingTimeMS {
		return fmt.Errorf("indexing.poll_interval_ms (%d) must be below emulator.processing_time_ms (%d) when restoring keys on %s",
			c.Indexing.PollIntervalMS, c.Emulator.ProcessingTimeMS, RestoreOnProcessing)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func (c *Config) validateNotifications() error {
	topic := c.Notifications.NtfyTopic
	if topic == "" {
		return nil
	}
	parsed, err := url.Parse(topic)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("notifications.ntfy_topic %q must be an http(s) URL", topic)
	}
	return nil
}
