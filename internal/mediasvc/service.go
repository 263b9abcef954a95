package mediasvc

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when an asset, file, key, job, or processor does not exist.
var ErrNotFound = errors.New("media service: not found")

// Service is the remote media-processing API.
type Service interface {
	CreateAsset(ctx context.Context, name string, opts AssetOptions) (Asset, error)
	DeleteAsset(ctx context.Context, assetID string) error
	UploadFile(ctx context.Context, assetID, name string, r io.Reader) (AssetFile, error)
	ListFiles(ctx context.Context, assetID string) ([]AssetFile, error)
	DownloadFile(ctx context.Context, assetID, fileID string, w io.Writer) error
	DeleteFile(ctx context.Context, assetID, fileID string) error

	// AssetKeys lists the content keys currently attached to an asset.
	AssetKeys(ctx context.Context, assetID string) ([]ContentKey, error)
	// KeyValue returns the clear-text bytes of a content key.
	KeyValue(ctx context.Context, keyID string) ([]byte, error)
	// RemoveAssetKey detaches a key from an asset and deletes it remotely.
	RemoveAssetKey(ctx context.Context, assetID, keyID string) error
	CreateKey(ctx context.Context, spec KeySpec) (ContentKey, error)
	AddAssetKey(ctx context.Context, assetID, keyID string) error

	// ProcessorByName returns the latest version of the named processor.
	ProcessorByName(ctx context.Context, name string) (Processor, error)
	CreateJob(ctx context.Context, spec JobSpec) (Job, error)
	SubmitJob(ctx context.Context, jobID string) error
	JobStatus(ctx context.Context, jobID string) (JobStatus, error)

	ReservedUnits(ctx context.Context) (ReservedUnits, error)
	SetReservedUnits(ctx context.Context, units ReservedUnits) error
}
