package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"mediaindex/internal/config"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/services"
	"mediaindex/internal/stage"
)

// StageName labels the upload stage in logs and status output.
const StageName = "upload"

// InputAssetPrefix prefixes the name of every input asset.
const InputAssetPrefix = "Input Asset:"

// Uploader is the upload stage handler.
type Uploader struct {
	svc       mediasvc.Service
	logger    *slog.Logger
	serialize bool
	// setup covers asset creation and key capture for every upload in the
	// process.
	setup      sync.Mutex
	onUploaded func(path string)
}

// Option customises an Uploader.
type Option func(*Uploader)

// WithUploadedHook registers a callback invoked with the source path after
// the file has been uploaded and its key captured.
func WithUploadedHook(fn func(path string)) Option {
	return func(u *Uploader) { u.onUploaded = fn }
}

// NewUploader constructs the upload stage.
func NewUploader(cfg *config.Config, svc mediasvc.Service, logger *slog.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		svc:       svc,
		logger:    logging.NewComponentLogger(logger, StageName),
		serialize: true,
	}
	if cfg != nil {
		u.serialize = cfg.Upload.SerializeAssetSetup
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Name implements stage.Handler.
func (u *Uploader) Name() string { return StageName }

// Execute uploads rec.SourcePath. On success the record holds the input
// asset reference and the captured content key, and the asset carries no
// key. On failure the input asset, if created, has been deleted.
func (u *Uploader) Execute(ctx context.Context, rec *jobrecord.Record) error {
	logger := logging.WithContext(ctx, u.logger).With(logging.String(logging.FieldFile, rec.FileName()))
	rec.Stamp(jobrecord.UploadStarted)

	info, err := os.Stat(rec.SourcePath)
	if err != nil {
		return services.Wrap(services.ErrValidation, StageName, "stat source", rec.FileName(), err)
	}
	if !info.Mode().IsRegular() {
		return services.Wrap(services.ErrValidation, StageName, "stat source", rec.FileName()+" is not a regular file", nil)
	}
	rec.Size = info.Size()

	asset, err := u.createAsset(ctx, rec)
	if err != nil {
		return services.Wrap(services.ErrRemote, StageName, "create asset", rec.FileName(), err)
	}
	logger = logger.With(logging.String(logging.FieldAssetID, asset.ID))
	logger.Debug("input asset created", logging.String("asset_name", asset.Name))

	if err := u.transfer(ctx, asset.ID, rec); err != nil {
		return u.abandon(ctx, rec, logger, services.Wrap(services.ErrRemote, StageName, "upload file", rec.FileName(), err))
	}
	rec.Stamp(jobrecord.UploadCompleted)

	if err := u.captureKey(ctx, asset.ID, rec); err != nil {
		return u.abandon(ctx, rec, logger, services.Wrap(services.ErrRemote, StageName, "capture key", rec.FileName(), err))
	}

	logger.Info("file uploaded",
		logging.String(logging.FieldEventType, "upload_complete"),
		logging.Int64("bytes", rec.Size),
		logging.Duration("elapsed", rec.At(jobrecord.UploadCompleted).Sub(rec.At(jobrecord.UploadStarted))),
	)
	if u.onUploaded != nil {
		u.onUploaded(rec.SourcePath)
	}
	return nil
}

func (u *Uploader) lock() func() {
	if !u.serialize {
		return func() {}
	}
	u.setup.Lock()
	return u.setup.Unlock
}

func (u *Uploader) createAsset(ctx context.Context, rec *jobrecord.Record) (mediasvc.Asset, error) {
	unlock := u.lock()
	defer unlock()
	asset, err := u.svc.CreateAsset(ctx, InputAssetPrefix+rec.FileName(), mediasvc.AssetOptions{StorageEncrypted: true})
	if err != nil {
		return mediasvc.Asset{}, err
	}
	rec.SetInputAsset(jobrecord.AssetRef{ID: asset.ID, Name: asset.Name})
	return asset, nil
}

func (u *Uploader) transfer(ctx context.Context, assetID string, rec *jobrecord.Record) error {
	f, err := os.Open(rec.SourcePath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer f.Close()
	if _, err := u.svc.UploadFile(ctx, assetID, rec.FileName(), f); err != nil {
		return err
	}
	return nil
}

// captureKey copies the storage-encryption key into the record and removes
// it from the asset.
func (u *Uploader) captureKey(ctx context.Context, assetID string, rec *jobrecord.Record) error {
	unlock := u.lock()
	defer unlock()
	keys, err := u.svc.AssetKeys(ctx, assetID)
	if err != nil {
		return fmt.Errorf("list keys: %w", err)
	}
	var key *mediasvc.ContentKey
	for i := range keys {
		if keys[i].Type == mediasvc.KeyTypeStorageEncryption {
			key = &keys[i]
			break
		}
	}
	if key == nil {
		return errors.New("asset has no storage encryption key")
	}
	value, err := u.svc.KeyValue(ctx, key.ID)
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	rec.HoldKey(jobrecord.KeyMaterial{ID: key.ID, Name: key.Name, Type: key.Type, Value: value})
	clear(value)
	if err := u.svc.RemoveAssetKey(ctx, assetID, key.ID); err != nil {
		return fmt.Errorf("remove key: %w", err)
	}
	return nil
}

// abandon deletes the input asset and drops any captured key.
func (u *Uploader) abandon(ctx context.Context, rec *jobrecord.Record, logger *slog.Logger, cause error) error {
	stage.Discard(ctx, u.svc, rec, logger)
	return cause
}

// HealthCheck implements stage.Handler.
func (u *Uploader) HealthCheck(context.Context) stage.Health {
	if u.svc == nil {
		return stage.Unhealthy(StageName, "media service unavailable")
	}
	return stage.Healthy(StageName)
}
