package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
)

// DeleteAsset removes every file in an asset and then the asset itself.
// A missing asset counts as deleted.
func DeleteAsset(ctx context.Context, svc mediasvc.Service, assetID string) error {
	files, err := svc.ListFiles(ctx, assetID)
	if errors.Is(err, mediasvc.ErrNotFound) {
		return nil
	}
	var errs []error
	if err != nil {
		errs = append(errs, fmt.Errorf("list files: %w", err))
	}
	for _, f := range files {
		if err := svc.DeleteFile(ctx, assetID, f.ID); err != nil && !errors.Is(err, mediasvc.ErrNotFound) {
			errs = append(errs, fmt.Errorf("delete file %s: %w", f.Name, err))
		}
	}
	if err := svc.DeleteAsset(ctx, assetID); err != nil && !errors.Is(err, mediasvc.ErrNotFound) {
		errs = append(errs, fmt.Errorf("delete asset: %w", err))
	}
	return errors.Join(errs...)
}

// Discard releases every remote resource a record still references and
// clears its key material. Failures are logged; the references are cleared
// either way so no later cleanup targets them again.
func Discard(ctx context.Context, svc mediasvc.Service, rec *jobrecord.Record, logger *slog.Logger) {
	if rec == nil {
		return
	}
	rec.ClearKey()
	release := func(kind string, ref jobrecord.AssetRef) {
		if err := DeleteAsset(ctx, svc, ref.ID); err != nil {
			logging.WarnWithContext(logger, "asset cleanup failed", "asset_cleanup_failed",
				logging.String(logging.FieldAssetID, ref.ID),
				logging.String("asset_kind", kind),
				logging.String(logging.FieldFile, rec.FileName()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the asset manually on the media service"),
				logging.String(logging.FieldImpact, "remote storage remains allocated"),
			)
			return
		}
		if logger != nil {
			logger.Info("asset cleaned up",
				logging.String(logging.FieldAssetID, ref.ID),
				logging.String("asset_kind", kind),
				logging.String(logging.FieldEventType, "asset_cleaned_up"),
			)
		}
	}
	if ref, ok := rec.TakeInputAsset(); ok {
		release("input", ref)
	}
	if ref, ok := rec.TakeOutputAsset(); ok {
		release("output", ref)
	}
}
