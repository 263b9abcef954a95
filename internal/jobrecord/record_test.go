package jobrecord_test

import (
	"errors"
	"testing"
	"time"

	"mediaindex/internal/jobrecord"
	"mediaindex/internal/mediasvc"
)

func stepClock(start time.Time, steps ...time.Duration) func() time.Time {
	i := 0
	return func() time.Time {
		if i >= len(steps) {
			return start
		}
		start = start.Add(steps[i])
		i++
		return start
	}
}

func TestStampNeverPrecedesEarlierMarks(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// The clock steps backwards for the third stamp.
	rec := jobrecord.New("/in/a.wav", 10).WithClock(stepClock(base, 0, time.Second, -5*time.Second, time.Second, 0, time.Second))

	var prev time.Time
	for _, mark := range jobrecord.Marks() {
		ts := rec.Stamp(mark)
		if ts.Before(prev) {
			t.Fatalf("%s stamped at %s before previous %s", mark, ts, prev)
		}
		prev = ts
	}
	if err := rec.Validate(); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
}

func TestTakeAssetClearsReference(t *testing.T) {
	rec := jobrecord.New("/in/a.wav", 10)
	rec.SetInputAsset(jobrecord.AssetRef{ID: "in-1", Name: "Input Asset:a.wav"})
	rec.SetOutputAsset(jobrecord.AssetRef{ID: "out-1"})

	ref, ok := rec.TakeInputAsset()
	if !ok || ref.ID != "in-1" {
		t.Fatalf("unexpected take result %+v %v", ref, ok)
	}
	if _, ok := rec.TakeInputAsset(); ok {
		t.Fatal("expected second take to report no asset")
	}
	if _, ok := rec.InputAsset(); ok {
		t.Fatal("expected input asset cleared")
	}
	if ref, ok := rec.TakeOutputAsset(); !ok || ref.ID != "out-1" {
		t.Fatalf("unexpected output take %+v %v", ref, ok)
	}
	if _, ok := rec.OutputAsset(); ok {
		t.Fatal("expected output asset cleared")
	}
}

func TestClearKeyZeroesBytes(t *testing.T) {
	rec := jobrecord.New("/in/a.wav", 10)
	value := []byte{1, 2, 3, 4}
	rec.HoldKey(jobrecord.KeyMaterial{ID: "nb:kid:UUID:x", Name: "k", Type: mediasvc.KeyTypeStorageEncryption, Value: value})

	key, ok := rec.Key()
	if !ok || len(key.Value) != 4 {
		t.Fatalf("expected key material, got %+v %v", key, ok)
	}
	held := key.Value
	value[0] = 9
	if held[0] != 1 {
		t.Fatal("expected record to keep its own copy of key bytes")
	}

	rec.ClearKey()
	for i, b := range held {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %v", i, held)
		}
	}
	if rec.HasKey() {
		t.Fatal("expected key to be dropped")
	}
	if rec.KeyID != "nb:kid:UUID:x" {
		t.Fatalf("expected key id retained for audit, got %q", rec.KeyID)
	}
	rec.ClearKey()
}

func TestValidateReportsProblems(t *testing.T) {
	complete := func() *jobrecord.Record {
		rec := jobrecord.New("/in/a.wav", 1)
		for _, mark := range jobrecord.Marks() {
			rec.Stamp(mark)
		}
		return rec
	}

	rec := jobrecord.New("/in/a.wav", 1)
	rec.Stamp(jobrecord.UploadStarted)
	if err := rec.Validate(); !errors.Is(err, jobrecord.ErrIncomplete) {
		t.Fatalf("expected incomplete error, got %v", err)
	}

	rec = complete()
	rec.SetOutputAsset(jobrecord.AssetRef{ID: "out"})
	if err := rec.Validate(); !errors.Is(err, jobrecord.ErrIncomplete) {
		t.Fatalf("expected error for live output asset, got %v", err)
	}

	rec = complete()
	rec.HoldKey(jobrecord.KeyMaterial{Value: []byte{1}})
	if err := rec.Validate(); !errors.Is(err, jobrecord.ErrIncomplete) {
		t.Fatalf("expected error for retained key, got %v", err)
	}
}

func TestTimings(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := jobrecord.New("/in/a.wav", 1).WithClock(stepClock(base,
		0,             // upload started
		2*time.Second, // upload completed
		3*time.Second, // key restored
		4*time.Second, // input deleted
		0,             // output created
		5*time.Second, // output deleted
	))
	for _, mark := range jobrecord.Marks() {
		rec.Stamp(mark)
	}
	got := rec.Timings()
	want := jobrecord.Timings{
		Total:          12 * time.Second,
		InputExposure:  4 * time.Second,
		OutputExposure: 5 * time.Second,
		Upload:         2 * time.Second,
	}
	if got != want {
		t.Fatalf("Timings() = %+v, want %+v", got, want)
	}
	if rec.FileName() != "a.wav" {
		t.Fatalf("unexpected file name %q", rec.FileName())
	}
}
