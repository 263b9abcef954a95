package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"mediaindex/internal/config"
	"mediaindex/internal/fileutil"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/services"
	"mediaindex/internal/stage"
	"mediaindex/internal/textutil"
)

// StageName labels the download stage in logs and status output.
const StageName = "download"

// Sink receives records whose output has been downloaded and deleted.
type Sink interface {
	Consume(ctx context.Context, rec *jobrecord.Record) error
}

// Downloader is the download stage handler.
type Downloader struct {
	svc          mediasvc.Service
	sink         Sink
	logger       *slog.Logger
	outputDir    string
	deleteRemote bool

	// publishMu serializes picking a free name and renaming into it.
	publishMu sync.Mutex
}

// NewDownloader constructs the download stage. A nil sink discards records.
func NewDownloader(cfg *config.Config, svc mediasvc.Service, sink Sink, logger *slog.Logger) *Downloader {
	return &Downloader{
		svc:          svc,
		sink:         sink,
		logger:       logging.NewComponentLogger(logger, StageName),
		outputDir:    cfg.Paths.OutputDir,
		deleteRemote: cfg.Download.DeleteRemote,
	}
}

// Name implements stage.Handler.
func (d *Downloader) Name() string { return StageName }

// Execute downloads the record's output files. A file that fails to download
// or delete is logged and listed in rec.FailedFiles; the remaining files are
// still processed. The output asset is deleted afterwards and the record
// passed to the sink.
func (d *Downloader) Execute(ctx context.Context, rec *jobrecord.Record) error {
	out, ok := rec.OutputAsset()
	if !ok {
		return services.Wrap(services.ErrValidation, StageName, "download output", "record has no output asset", nil)
	}
	logger := logging.WithContext(ctx, d.logger).With(
		logging.String(logging.FieldFile, rec.FileName()),
		logging.String(logging.FieldAssetID, out.ID),
	)

	files, err := d.svc.ListFiles(ctx, out.ID)
	if err != nil {
		// stageexec deletes the asset on the way out.
		return services.Wrap(services.ErrRemote, StageName, "list output files", out.ID, err)
	}

	saved := 0
	for _, f := range files {
		if err := d.fetch(ctx, out.ID, f); err != nil {
			rec.FailedFiles = append(rec.FailedFiles, f.Name)
			logging.WarnWithContext(logger, "output file not retrieved", "download_file_failed",
				logging.String("output_file", f.Name),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the file is lost once the output asset is deleted"),
				logging.String(logging.FieldImpact, "index output is incomplete"),
			)
			continue
		}
		saved++
	}

	if _, ok := rec.TakeOutputAsset(); ok {
		if err := stage.DeleteAsset(ctx, d.svc, out.ID); err != nil {
			rec.SetOutputAsset(out)
			return services.Wrap(services.ErrRemote, StageName, "delete output asset", out.ID, err)
		}
	}
	rec.Stamp(jobrecord.OutputDeleted)
	logger.Info("output downloaded",
		logging.String(logging.FieldEventType, "download_complete"),
		logging.Int("files", saved),
		logging.Int("failed_files", len(rec.FailedFiles)),
		logging.String("output_dir", d.outputDir),
	)

	if d.sink == nil {
		return nil
	}
	if err := d.sink.Consume(ctx, rec); err != nil {
		logging.WarnWithContext(logger, "result not recorded", "result_sink_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the results directory and ledger"),
			logging.String(logging.FieldImpact, "timing for this file is missing from results"),
		)
	}
	return nil
}

// fetch writes one remote file into the output directory through a temp
// file and removes the remote copy when configured to.
func (d *Downloader) fetch(ctx context.Context, assetID string, f mediasvc.AssetFile) error {
	name := textutil.SafeFileName(f.Name)
	if name == "" {
		return fmt.Errorf("invalid output file name %q", f.Name)
	}
	tmp, err := os.CreateTemp(d.outputDir, "."+name+".*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if err := d.svc.DownloadFile(ctx, assetID, f.ID, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := d.publish(tmpPath, name); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if !d.deleteRemote {
		return nil
	}
	if err := d.svc.DeleteFile(ctx, assetID, f.ID); err != nil && !errors.Is(err, mediasvc.ErrNotFound) {
		return fmt.Errorf("delete remote file: %w", err)
	}
	return nil
}

// publish moves a finished temp file to name in the output directory. An
// existing file of that name is kept and the new one gets a numbered suffix.
func (d *Downloader) publish(tmpPath, name string) error {
	d.publishMu.Lock()
	defer d.publishMu.Unlock()
	dest, err := fileutil.UniquePath(d.outputDir, name)
	if err != nil {
		return fmt.Errorf("resolve output name: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// HealthCheck implements stage.Handler.
func (d *Downloader) HealthCheck(context.Context) stage.Health {
	if d.svc == nil {
		return stage.Unhealthy(StageName, "media service unavailable")
	}
	info, err := os.Stat(d.outputDir)
	if err != nil || !info.IsDir() {
		return stage.Unhealthy(StageName, "output directory unavailable: "+d.outputDir)
	}
	return stage.Healthy(StageName)
}
