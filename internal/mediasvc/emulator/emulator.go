package emulator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
)

// DefaultProcessor is the processor name registered when Options.Processors is empty.
const DefaultProcessor = "Media Indexer 2 Preview"

// Options configures an emulator instance.
type Options struct {
	ScheduleDelay    time.Duration
	ProcessingTime   time.Duration
	MaxReservedUnits int
	Processors       []string
	Logger           *slog.Logger
}

// Faults injects failures. Nil hooks never fire.
type Faults struct {
	CreateAsset func(name string) error
	Upload      func(assetName, fileName string) error
	Download    func(fileName string) error
	// Job, when it returns true, ends the named job in the Error state with
	// the returned detail at the end of processing.
	Job func(jobName string) (mediasvc.TaskError, bool)
}

// Call is one journal entry. Target is the asset, file, key or job the call
// addressed; CreateAsset records the requested name and, when the call
// succeeded, the new asset's id in AssetID.
type Call struct {
	Op      string
	Target  string
	AssetID string
	At      time.Time
}

type asset struct {
	mediasvc.Asset
	encrypted bool
	keyIDs    []string
	files     map[string]*storedFile
}

type storedFile struct {
	mediasvc.AssetFile
	sealed []byte
	seq    int
}

type contentKey struct {
	mediasvc.ContentKey
	value []byte
}

// Service is the emulator. Create with New and release with Close.
type Service struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	assets     map[string]*asset
	keys       map[string]*contentKey
	jobs       map[string]*job
	processors map[string]mediasvc.Processor
	reserved   mediasvc.ReservedUnits
	busyUnits  int
	unitFreed  chan struct{}
	faults     Faults
	journal    []Call
	fileSeq    int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ mediasvc.Service = (*Service)(nil)

// New builds an emulator. The reserved unit count starts at zero, so no job
// leaves the queue until SetReservedUnits is called.
func New(opts Options) *Service {
	if opts.MaxReservedUnits <= 0 {
		opts.MaxReservedUnits = 100
	}
	names := opts.Processors
	if len(names) == 0 {
		names = []string{DefaultProcessor}
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		opts:       opts,
		logger:     logging.NewComponentLogger(opts.Logger, "emulator"),
		assets:     make(map[string]*asset),
		keys:       make(map[string]*contentKey),
		jobs:       make(map[string]*job),
		processors: make(map[string]mediasvc.Processor),
		reserved:   mediasvc.ReservedUnits{Type: mediasvc.ReservedUnitS1},
		unitFreed:  make(chan struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, name := range names {
		s.processors[name] = mediasvc.Processor{ID: "proc-" + uuid.NewString(), Name: name, Version: "2.0"}
	}
	return s
}

// Close cancels running jobs and waits for their goroutines.
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

// SetFaults replaces the fault hooks.
func (s *Service) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// Calls returns a copy of the call journal.
func (s *Service) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.journal...)
}

// Assets lists the assets that currently exist, ordered by creation.
func (s *Service) Assets() []mediasvc.Asset {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]mediasvc.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		out = append(out, a.Asset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (s *Service) record(op, target string) {
	s.journal = append(s.journal, Call{Op: op, Target: target, At: time.Now()})
}

func (s *Service) lookupAsset(assetID string) (*asset, error) {
	a, ok := s.assets[assetID]
	if !ok {
		return nil, fmt.Errorf("asset %s: %w", assetID, mediasvc.ErrNotFound)
	}
	return a, nil
}

// storageKey returns the value of the asset's attached storage key.
func (s *Service) storageKey(a *asset) ([]byte, bool) {
	for _, id := range a.keyIDs {
		if key, ok := s.keys[id]; ok && key.Type == mediasvc.KeyTypeStorageEncryption {
			return key.value, true
		}
	}
	return nil, false
}

// CreateAsset creates an empty asset, with a fresh content key when
// opts asks for storage encryption.
func (s *Service) CreateAsset(ctx context.Context, name string, opts mediasvc.AssetOptions) (mediasvc.Asset, error) {
	if err := ctx.Err(); err != nil {
		return mediasvc.Asset{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := len(s.journal)
	s.record("CreateAsset", name)
	if hook := s.faults.CreateAsset; hook != nil {
		if err := hook(name); err != nil {
			return mediasvc.Asset{}, err
		}
	}
	a, err := s.createAssetLocked(name, opts.StorageEncrypted)
	if err != nil {
		return mediasvc.Asset{}, err
	}
	s.journal[entry].AssetID = a.ID
	return a, nil
}

func (s *Service) createAssetLocked(name string, encrypted bool) (mediasvc.Asset, error) {
	a := &asset{
		Asset:     mediasvc.Asset{ID: "asset-" + uuid.NewString(), Name: name, Created: time.Now()},
		encrypted: encrypted,
		files:     make(map[string]*storedFile),
	}
	if encrypted {
		value, err := newKeyValue()
		if err != nil {
			return mediasvc.Asset{}, err
		}
		key := &contentKey{
			ContentKey: mediasvc.ContentKey{
				ID:   mediasvc.KeyIDFromGUID(mediasvc.NewKeyGUID()),
				Name: "ContentKey " + name,
				Type: mediasvc.KeyTypeStorageEncryption,
			},
			value: value,
		}
		s.keys[key.ID] = key
		a.keyIDs = append(a.keyIDs, key.ID)
	}
	s.assets[a.ID] = a
	return a.Asset, nil
}

// DeleteAsset removes an asset together with its files and keys.
func (s *Service) DeleteAsset(ctx context.Context, assetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteAsset", assetID)
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return err
	}
	for _, id := range a.keyIDs {
		delete(s.keys, id)
	}
	delete(s.assets, assetID)
	return nil
}

// UploadFile stores the contents of r as a new file of the asset.
func (s *Service) UploadFile(ctx context.Context, assetID, name string, r io.Reader) (mediasvc.AssetFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return mediasvc.AssetFile{}, fmt.Errorf("read upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return mediasvc.AssetFile{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("UploadFile", assetID)
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return mediasvc.AssetFile{}, err
	}
	if hook := s.faults.Upload; hook != nil {
		if err := hook(a.Name, name); err != nil {
			return mediasvc.AssetFile{}, err
		}
	}
	return s.storeFileLocked(a, name, data)
}

func (s *Service) storeFileLocked(a *asset, name string, data []byte) (mediasvc.AssetFile, error) {
	sealed := data
	if a.encrypted {
		value, ok := s.storageKey(a)
		if !ok {
			return mediasvc.AssetFile{}, fmt.Errorf("asset %s has no storage key", a.ID)
		}
		var err error
		if sealed, err = seal(value, data); err != nil {
			return mediasvc.AssetFile{}, err
		}
	}
	s.fileSeq++
	f := &storedFile{
		AssetFile: mediasvc.AssetFile{ID: "file-" + uuid.NewString(), Name: name, Size: int64(len(data))},
		sealed:    sealed,
		seq:       s.fileSeq,
	}
	a.files[f.ID] = f
	return f.AssetFile, nil
}

// ListFiles returns the asset's files in upload order.
func (s *Service) ListFiles(ctx context.Context, assetID string) ([]mediasvc.AssetFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return nil, err
	}
	files := make([]*storedFile, 0, len(a.files))
	for _, f := range a.files {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].seq < files[j].seq })
	out := make([]mediasvc.AssetFile, len(files))
	for i, f := range files {
		out[i] = f.AssetFile
	}
	return out, nil
}

func (s *Service) readFileLocked(a *asset, f *storedFile) ([]byte, error) {
	if !a.encrypted {
		return f.sealed, nil
	}
	value, ok := s.storageKey(a)
	if !ok {
		return nil, fmt.Errorf("asset %s: content key missing", a.ID)
	}
	return open(value, f.sealed)
}

// DownloadFile copies a file's plaintext to w. Reading an encrypted
// file fails while its asset has no key.
func (s *Service) DownloadFile(ctx context.Context, assetID, fileID string, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.record("DownloadFile", fileID)
	a, err := s.lookupAsset(assetID)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	f, ok := a.files[fileID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("file %s: %w", fileID, mediasvc.ErrNotFound)
	}
	if hook := s.faults.Download; hook != nil {
		if err := hook(f.Name); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	data, err := s.readFileLocked(a, f)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// DeleteFile removes one file from an asset.
func (s *Service) DeleteFile(ctx context.Context, assetID, fileID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("DeleteFile", fileID)
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return err
	}
	if _, ok := a.files[fileID]; !ok {
		return fmt.Errorf("file %s: %w", fileID, mediasvc.ErrNotFound)
	}
	delete(a.files, fileID)
	return nil
}

// AssetKeys lists the content keys attached to an asset.
func (s *Service) AssetKeys(ctx context.Context, assetID string) ([]mediasvc.ContentKey, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return nil, err
	}
	out := make([]mediasvc.ContentKey, 0, len(a.keyIDs))
	for _, id := range a.keyIDs {
		if key, ok := s.keys[id]; ok {
			out = append(out, key.ContentKey)
		}
	}
	return out, nil
}

// KeyValue returns a copy of a key's secret bytes.
func (s *Service) KeyValue(ctx context.Context, keyID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("content key %s: %w", keyID, mediasvc.ErrNotFound)
	}
	return append([]byte(nil), key.value...), nil
}

// RemoveAssetKey detaches a key from an asset and deletes it.
func (s *Service) RemoveAssetKey(ctx context.Context, assetID, keyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("RemoveAssetKey", assetID)
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return err
	}
	idx := -1
	for i, id := range a.keyIDs {
		if id == keyID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("content key %s on asset %s: %w", keyID, assetID, mediasvc.ErrNotFound)
	}
	a.keyIDs = append(a.keyIDs[:idx], a.keyIDs[idx+1:]...)
	delete(s.keys, keyID)
	return nil
}

// CreateKey registers a content key with a caller-chosen GUID and value.
func (s *Service) CreateKey(ctx context.Context, spec mediasvc.KeySpec) (mediasvc.ContentKey, error) {
	if err := ctx.Err(); err != nil {
		return mediasvc.ContentKey{}, err
	}
	if len(spec.Value) != keySize {
		return mediasvc.ContentKey{}, fmt.Errorf("content key value must be %d bytes, got %d", keySize, len(spec.Value))
	}
	if _, err := uuid.Parse(spec.GUID); err != nil {
		return mediasvc.ContentKey{}, fmt.Errorf("content key guid: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := mediasvc.KeyIDFromGUID(spec.GUID)
	s.record("CreateKey", id)
	if _, exists := s.keys[id]; exists {
		return mediasvc.ContentKey{}, fmt.Errorf("content key %s already exists", id)
	}
	key := &contentKey{
		ContentKey: mediasvc.ContentKey{ID: id, Name: spec.Name, Type: spec.Type},
		value:      append([]byte(nil), spec.Value...),
	}
	s.keys[id] = key
	return key.ContentKey, nil
}

// AddAssetKey attaches an existing key to an asset.
func (s *Service) AddAssetKey(ctx context.Context, assetID, keyID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("AddAssetKey", assetID)
	a, err := s.lookupAsset(assetID)
	if err != nil {
		return err
	}
	if _, ok := s.keys[keyID]; !ok {
		return fmt.Errorf("content key %s: %w", keyID, mediasvc.ErrNotFound)
	}
	for _, id := range a.keyIDs {
		if id == keyID {
			return nil
		}
	}
	a.keyIDs = append(a.keyIDs, keyID)
	return nil
}

// ProcessorByName looks up one of the processors given in Options.
func (s *Service) ProcessorByName(ctx context.Context, name string) (mediasvc.Processor, error) {
	if err := ctx.Err(); err != nil {
		return mediasvc.Processor{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processors[name]
	if !ok {
		return mediasvc.Processor{}, fmt.Errorf("processor %q: %w", name, mediasvc.ErrNotFound)
	}
	return p, nil
}

// ReservedUnits reports the declared reserved-unit quota.
func (s *Service) ReservedUnits(ctx context.Context) (mediasvc.ReservedUnits, error) {
	if err := ctx.Err(); err != nil {
		return mediasvc.ReservedUnits{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved, nil
}

// SetReservedUnits declares the quota, bounded by Options.MaxReservedUnits.
func (s *Service) SetReservedUnits(ctx context.Context, units mediasvc.ReservedUnits) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if units.Count < 0 || units.Count > s.opts.MaxReservedUnits {
		return fmt.Errorf("reserved units %d outside 0..%d", units.Count, s.opts.MaxReservedUnits)
	}
	switch units.Type {
	case mediasvc.ReservedUnitS1, mediasvc.ReservedUnitS2, mediasvc.ReservedUnitS3:
	default:
		return fmt.Errorf("reserved unit type %q not supported", units.Type)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("SetReservedUnits", fmt.Sprintf("%d %s", units.Count, units.Type))
	s.reserved = units
	s.signalUnitsLocked()
	return nil
}

// signalUnitsLocked wakes every job waiting for a reserved unit.
func (s *Service) signalUnitsLocked() {
	close(s.unitFreed)
	s.unitFreed = make(chan struct{})
}
