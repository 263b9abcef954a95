package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/daemon"
	"mediaindex/internal/ipc"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc/emulator"
	"mediaindex/internal/notifications"
	"mediaindex/internal/preflight"
	"mediaindex/internal/results"
	"mediaindex/internal/staging"
)

// partialMaxAge bounds how recently a download temp file may have been written
// and still be removed at startup.
const partialMaxAge = time.Hour

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Run starts the mediaindex daemon and blocks until it has drained after
// SIGINT, SIGTERM, an IPC stop request or cancellation of cmdCtx. A second
// signal during the drain abandons it.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logPath := logging.DailyLogPath(cfg.Paths.LogDir, time.Now())
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		FilePath:    logPath,
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := ensureCurrentLogPointer(cfg.Paths.LogDir, logPath); err != nil {
		fmt.Fprintf(os.Stderr, "warn: unable to update mediaindex.log link: %v\n", err)
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: logging.LogFilePattern, Exclude: []string{logPath}},
	)

	if err := runPreflight(signalCtx, logger, cfg); err != nil {
		return err
	}
	logConfigSnapshot(logger, cfg)
	if cleaned := staging.CleanStalePartials(signalCtx, cfg.Paths.OutputDir, partialMaxAge, logger); len(cleaned.Removed) > 0 {
		logger.Info("reclaimed partial downloads",
			logging.Int("removed", len(cleaned.Removed)),
			logging.String(logging.FieldEventType, "partial_cleanup_summary"))
	}

	pidPath := filepath.Join(cfg.Paths.LogDir, "mediaindex.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	ledger, err := results.OpenLedger(cfg.LedgerPath())
	if err != nil {
		logger.Error("open results ledger", logging.Error(err))
		return err
	}
	defer ledger.Close()
	sink := results.Multi{ledger, results.NewTextLog(cfg.Paths.ResultsDir)}
	if notifier := notifications.New(cfg); notifier != nil {
		sink = append(sink, notifier)
	}

	svc := emulator.New(emulator.Options{
		ScheduleDelay:    time.Duration(cfg.Emulator.ScheduleDelayMS) * time.Millisecond,
		ProcessingTime:   time.Duration(cfg.Emulator.ProcessingTimeMS) * time.Millisecond,
		MaxReservedUnits: cfg.Emulator.MaxReservedUnits,
		Processors:       []string{cfg.Indexing.Processor},
		Logger:           logger,
	})
	defer svc.Close()

	d, err := daemon.New(cfg, svc, sink, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(signalCtx, cfg.DaemonSocketPath(), d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(signalCtx); err != nil {
		logging.ErrorWithContext(logger, "daemon start failed", "daemon_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check for another running instance and the reserved unit quota"),
		)
		return err
	}

	select {
	case <-signalCtx.Done():
		logger.Info("mediaindex daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_shutdown"),
			logging.String("reason", "signal"))
	case <-d.Done():
		logger.Info("mediaindex daemon shutting down",
			logging.String(logging.FieldEventType, "daemon_shutdown"),
			logging.String("reason", "stop request"))
	}
	cancel()

	drainCtx, stopDrain := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopDrain()
	if err := d.Stop(drainCtx); err != nil {
		return err
	}
	return nil
}

func runPreflight(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	checks := preflight.RunAll(ctx, cfg)
	for _, check := range checks {
		if check.Passed {
			logger.Debug("preflight passed",
				logging.String("check", check.Name),
				logging.String("detail", check.Detail))
			continue
		}
		logging.ErrorWithContext(logger, "preflight failed", "preflight_failed",
			logging.String("check", check.Name),
			logging.String("detail", check.Detail),
			logging.String(logging.FieldErrorHint, "fix the path or permissions and restart"),
		)
	}
	if err := preflight.Err(checks); err != nil {
		return fmt.Errorf("preflight: %w", err)
	}
	return nil
}

func ensureCurrentLogPointer(logDir, target string) error {
	if logDir == "" || target == "" {
		return nil
	}
	current := filepath.Join(logDir, "mediaindex.log")
	if err := os.Remove(current); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove existing log pointer: %w", err)
	}
	if err := os.Symlink(target, current); err == nil {
		return nil
	}
	if err := os.Link(target, current); err != nil {
		return fmt.Errorf("link log pointer: %w", err)
	}
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logConfigSnapshot(logger *slog.Logger, cfg *config.Config) {
	logger.Info("configuration snapshot",
		logging.String(logging.FieldEventType, "config_snapshot"),
		logging.String("source_dir", cfg.Paths.SourceDir),
		logging.String("pattern", cfg.Intake.Pattern),
		logging.Int("upload_concurrency", cfg.Upload.Concurrency),
		logging.Int("indexing_workers", cfg.IndexingPoolSize()),
		logging.Int("reserved_units", cfg.Indexing.ReservedUnits),
		logging.String("reserved_unit_type", cfg.Indexing.ReservedUnitType),
		logging.String("restore_key_on", cfg.Indexing.RestoreKeyOn),
		logging.Int("download_concurrency", cfg.Download.Concurrency),
		logging.Int("max_in_flight", cfg.Pipeline.MaxInFlight),
		logging.Bool("task_config_file_set", cfg.Indexing.TaskConfigFile != ""),
		logging.Bool("notifications_enabled", cfg.Notifications.NtfyTopic != ""),
	)
}
