package stage_test

import (
	"context"
	"strings"
	"testing"

	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/mediasvc/emulator"
	"mediaindex/internal/stage"
)

func newService(t *testing.T) *emulator.Service {
	t.Helper()
	svc := emulator.New(emulator.Options{})
	t.Cleanup(svc.Close)
	return svc
}

func assetWithFiles(t *testing.T, svc *emulator.Service, name string, files ...string) mediasvc.Asset {
	t.Helper()
	ctx := context.Background()
	asset, err := svc.CreateAsset(ctx, name, mediasvc.AssetOptions{StorageEncrypted: true})
	if err != nil {
		t.Fatalf("CreateAsset: %v", err)
	}
	for _, f := range files {
		if _, err := svc.UploadFile(ctx, asset.ID, f, strings.NewReader("payload")); err != nil {
			t.Fatalf("UploadFile: %v", err)
		}
	}
	return asset
}

func TestDeleteAssetRemovesFilesBeforeAsset(t *testing.T) {
	svc := newService(t)
	asset := assetWithFiles(t, svc, "Input Asset:a.wav", "a.wav", "b.wav")

	if err := stage.DeleteAsset(context.Background(), svc, asset.ID); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	if left := svc.Assets(); len(left) != 0 {
		t.Fatalf("expected no assets, got %d", len(left))
	}

	var ops []string
	for _, call := range svc.Calls() {
		switch call.Op {
		case "DeleteFile", "DeleteAsset":
			ops = append(ops, call.Op)
		}
	}
	if strings.Join(ops, ",") != "DeleteFile,DeleteFile,DeleteAsset" {
		t.Fatalf("unexpected delete order %v", ops)
	}
}

func TestDeleteAssetMissingCountsAsDeleted(t *testing.T) {
	svc := newService(t)
	if err := stage.DeleteAsset(context.Background(), svc, "nb:cid:UUID:missing"); err != nil {
		t.Fatalf("expected nil for missing asset, got %v", err)
	}
}

func TestDiscardReleasesEverything(t *testing.T) {
	svc := newService(t)
	input := assetWithFiles(t, svc, "Input Asset:a.wav", "a.wav")
	output := assetWithFiles(t, svc, "Indexing Output Asset:a.wav", "a.index.json")

	rec := jobrecord.New("/work/a.wav", 7)
	rec.SetInputAsset(jobrecord.AssetRef{ID: input.ID, Name: input.Name})
	rec.SetOutputAsset(jobrecord.AssetRef{ID: output.ID, Name: output.Name})
	key := []byte{1, 2, 3, 4}
	rec.HoldKey(jobrecord.KeyMaterial{ID: "nb:kid:UUID:x", Value: key})

	stage.Discard(context.Background(), svc, rec, logging.NewNop())

	if left := svc.Assets(); len(left) != 0 {
		t.Fatalf("expected no assets, got %d", len(left))
	}
	if _, ok := rec.InputAsset(); ok {
		t.Fatal("input reference kept")
	}
	if _, ok := rec.OutputAsset(); ok {
		t.Fatal("output reference kept")
	}
	if rec.HasKey() {
		t.Fatal("key material kept")
	}

	// A second discard must not address the deleted assets again.
	before := len(svc.Calls())
	stage.Discard(context.Background(), svc, rec, nil)
	if after := len(svc.Calls()); after != before {
		t.Fatalf("second discard made %d remote calls", after-before)
	}
}
