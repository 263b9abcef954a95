package jobrecord

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediaindex/internal/mediasvc"
)

// Mark names one of the six stage-transition instants, in pipeline order.
type Mark int

const (
	UploadStarted Mark = iota
	UploadCompleted
	KeyRestored
	InputDeleted
	OutputCreated
	OutputDeleted
	markCount
)

var markNames = [markCount]string{
	"upload_started",
	"upload_completed",
	"key_restored",
	"input_deleted",
	"output_created",
	"output_deleted",
}

func (m Mark) String() string {
	if m < 0 || m >= markCount {
		return fmt.Sprintf("Mark(%d)", int(m))
	}
	return markNames[m]
}

// Marks lists every mark in order.
func Marks() []Mark {
	return []Mark{UploadStarted, UploadCompleted, KeyRestored, InputDeleted, OutputCreated, OutputDeleted}
}

// AssetRef identifies a remote asset owned by a record.
type AssetRef struct {
	ID   string
	Name string
}

// KeyMaterial is a content key captured from an asset.
type KeyMaterial struct {
	ID    string
	Name  string
	Type  mediasvc.KeyType
	Value []byte
}

// Record tracks one source file through the pipeline. A record is handled by
// one stage at a time; the mutex guards readers such as status snapshots.
type Record struct {
	ID         string
	SourcePath string
	Size       int64
	// KeyID is kept after the key material is cleared, for audit output.
	KeyID       string
	FailedFiles []string

	mu          sync.Mutex
	inputAsset  *AssetRef
	outputAsset *AssetRef
	key         *KeyMaterial
	marks       [markCount]time.Time
	now         func() time.Time
}

// New creates a record for the given source file.
func New(path string, size int64) *Record {
	return &Record{
		ID:         uuid.NewString(),
		SourcePath: path,
		Size:       size,
		now:        time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (r *Record) WithClock(now func() time.Time) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

// FileName returns the base name of the source file.
func (r *Record) FileName() string {
	return filepath.Base(r.SourcePath)
}

// Stamp records the current instant for mark and returns it. The stamp is
// never earlier than any stamp of a preceding mark.
func (r *Record) Stamp(mark Mark) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now()
	for prev := Mark(0); prev < mark; prev++ {
		if r.marks[prev].After(ts) {
			ts = r.marks[prev]
		}
	}
	r.marks[mark] = ts
	return ts
}

// At returns the instant recorded for mark, or the zero time.
func (r *Record) At(mark Mark) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.marks[mark]
}

// SetInputAsset records the live input asset.
func (r *Record) SetInputAsset(ref AssetRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputAsset = &ref
}

// InputAsset returns the live input asset, if any.
func (r *Record) InputAsset() (AssetRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inputAsset == nil {
		return AssetRef{}, false
	}
	return *r.inputAsset, true
}

// TakeInputAsset returns the live input asset and clears the reference. The
// caller becomes responsible for deleting it.
func (r *Record) TakeInputAsset() (AssetRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inputAsset == nil {
		return AssetRef{}, false
	}
	ref := *r.inputAsset
	r.inputAsset = nil
	return ref, true
}

// SetOutputAsset records the live output asset.
func (r *Record) SetOutputAsset(ref AssetRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputAsset = &ref
}

// OutputAsset returns the live output asset, if any.
func (r *Record) OutputAsset() (AssetRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outputAsset == nil {
		return AssetRef{}, false
	}
	return *r.outputAsset, true
}

// TakeOutputAsset returns the live output asset and clears the reference.
func (r *Record) TakeOutputAsset() (AssetRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outputAsset == nil {
		return AssetRef{}, false
	}
	ref := *r.outputAsset
	r.outputAsset = nil
	return ref, true
}

// HoldKey stores key material removed from the input asset. The record keeps
// its own copy of the bytes.
func (r *Record) HoldKey(key KeyMaterial) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key != nil {
		wipe(r.key.Value)
	}
	key.Value = append([]byte(nil), key.Value...)
	r.key = &key
	r.KeyID = key.ID
}

// Key returns the held key material. The returned Value aliases the record's
// buffer and is zeroed by ClearKey.
func (r *Record) Key() (KeyMaterial, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key == nil {
		return KeyMaterial{}, false
	}
	return *r.key, true
}

// HasKey reports whether key material is held.
func (r *Record) HasKey() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.key != nil
}

// ClearKey zeroes the held key bytes and drops the material. Safe to call
// when no key is held.
func (r *Record) ClearKey() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.key == nil {
		return
	}
	wipe(r.key.Value)
	r.key = nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Timings summarises a completed record.
type Timings struct {
	// Total runs from upload completion to output deletion.
	Total time.Duration
	// InputExposure is how long the input asset was readable remotely after
	// its key was restored.
	InputExposure time.Duration
	// OutputExposure is how long the output asset existed.
	OutputExposure time.Duration
	// Upload is the time spent creating the asset and transferring bytes.
	Upload time.Duration
}

// Timings derives durations from the recorded marks.
func (r *Record) Timings() Timings {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.marks
	return Timings{
		Total:          m[OutputDeleted].Sub(m[UploadCompleted]),
		InputExposure:  m[InputDeleted].Sub(m[KeyRestored]),
		OutputExposure: m[OutputDeleted].Sub(m[OutputCreated]),
		Upload:         m[UploadCompleted].Sub(m[UploadStarted]),
	}
}

// ErrIncomplete marks a record that is not ready for the results sink.
var ErrIncomplete = errors.New("job record incomplete")

// Validate checks that every mark is set and ordered and that no remote
// reference or key material remains.
func (r *Record) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, ts := range r.marks {
		if ts.IsZero() {
			return fmt.Errorf("%w: %s not set", ErrIncomplete, Mark(i))
		}
		if i > 0 && ts.Before(r.marks[i-1]) {
			return fmt.Errorf("%w: %s precedes %s", ErrIncomplete, Mark(i), Mark(i-1))
		}
	}
	if r.inputAsset != nil {
		return fmt.Errorf("%w: input asset %s still referenced", ErrIncomplete, r.inputAsset.ID)
	}
	if r.outputAsset != nil {
		return fmt.Errorf("%w: output asset %s still referenced", ErrIncomplete, r.outputAsset.ID)
	}
	if r.key != nil {
		return fmt.Errorf("%w: key material retained", ErrIncomplete)
	}
	return nil
}
