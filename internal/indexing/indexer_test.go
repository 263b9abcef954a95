package indexing_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/indexing"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/mediasvc/emulator"
	"mediaindex/internal/services"
	"mediaindex/internal/testsupport"
	"mediaindex/internal/upload"
)

type fixture struct {
	cfg *config.Config
	svc *emulator.Service
	idx *indexing.Indexer
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	svc := testsupport.NewEmulator(t, cfg)
	idx := indexing.NewIndexer(cfg, svc, logging.NewNop())
	if err := idx.Prepare(context.Background()); err != nil {
		t.Fatalf("Prepare returned error: %v", err)
	}
	return fixture{cfg: cfg, svc: svc, idx: idx}
}

func (f fixture) uploaded(t *testing.T, name, body string) *jobrecord.Record {
	t.Helper()
	path := testsupport.SourceFile(t, f.cfg.Paths.ProcessingDir, name, body)
	rec := jobrecord.New(path, 0)
	if err := upload.NewUploader(f.cfg, f.svc, logging.NewNop()).Execute(context.Background(), rec); err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return rec
}

func TestExecuteFinishedJob(t *testing.T) {
	f := newFixture(t)
	rec := f.uploaded(t, "talk.wav", "one two three")
	input, _ := rec.InputAsset()

	if err := f.idx.Execute(context.Background(), rec); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if _, ok := rec.InputAsset(); ok {
		t.Fatal("input asset still referenced")
	}
	if rec.HasKey() {
		t.Fatal("key material retained after restore")
	}
	out, ok := rec.OutputAsset()
	if !ok || out.Name != "Indexing Output Asset:talk.wav" {
		t.Fatalf("unexpected output asset %+v (ok=%v)", out, ok)
	}
	restored, deleted, created := rec.At(jobrecord.KeyRestored), rec.At(jobrecord.InputDeleted), rec.At(jobrecord.OutputCreated)
	if restored.IsZero() || deleted.Before(restored) || created.Before(deleted) {
		t.Fatalf("unexpected stamps restored=%s deleted=%s created=%s", restored, deleted, created)
	}
	for _, a := range f.svc.Assets() {
		if a.ID == input.ID {
			t.Fatal("input asset still exists remotely")
		}
	}
	files, err := f.svc.ListFiles(context.Background(), out.ID)
	if err != nil || len(files) != 2 {
		t.Fatalf("expected two output files, got %+v %v", files, err)
	}

	jobID, ok := f.svc.JobIDByName("Indexing Job:talk.wav")
	if !ok {
		t.Fatal("job not found by name")
	}
	var processingAt time.Time
	for _, tr := range f.svc.JobHistory(jobID) {
		if tr.State == mediasvc.JobProcessing {
			processingAt = tr.At
		}
	}
	if restored.Before(processingAt) {
		t.Fatalf("key restored at %s before job entered processing at %s", restored, processingAt)
	}
}

func TestExecuteRestoresOnScheduled(t *testing.T) {
	f := newFixture(t, testsupport.WithRestoreKeyOn(config.RestoreOnScheduled), testsupport.WithJobTimings(20*time.Millisecond, 10*time.Millisecond))
	rec := f.uploaded(t, "early.wav", "words")
	if err := f.idx.Execute(context.Background(), rec); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	jobID, _ := f.svc.JobIDByName("Indexing Job:early.wav")
	var processingAt time.Time
	for _, tr := range f.svc.JobHistory(jobID) {
		if tr.State == mediasvc.JobProcessing {
			processingAt = tr.At
		}
	}
	if !rec.At(jobrecord.KeyRestored).Before(processingAt) {
		t.Fatalf("expected restore during scheduling, restored=%s processing=%s", rec.At(jobrecord.KeyRestored), processingAt)
	}
}

func TestExecuteErrorDeletesBothAssets(t *testing.T) {
	f := newFixture(t)
	f.svc.SetFaults(emulator.Faults{Job: func(name string) (mediasvc.TaskError, bool) {
		return mediasvc.TaskError{Code: "UnsupportedFormat", Message: "audio codec not supported"}, strings.HasSuffix(name, "bad.wav")
	}})
	rec := f.uploaded(t, "bad.wav", "noise")

	err := f.idx.Execute(context.Background(), rec)
	if !errors.Is(err, services.ErrJobFailed) {
		t.Fatalf("expected job failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "UnsupportedFormat") {
		t.Fatalf("expected task error detail in %v", err)
	}
	if _, ok := rec.InputAsset(); ok {
		t.Fatal("input asset still referenced")
	}
	if _, ok := rec.OutputAsset(); ok {
		t.Fatal("output asset still referenced")
	}
	if rec.At(jobrecord.InputDeleted).IsZero() {
		t.Fatal("input deletion not stamped")
	}
	if assets := f.svc.Assets(); len(assets) != 0 {
		t.Fatalf("expected no remote assets, got %+v", assets)
	}
}

func TestExecuteRefusesBeforePrepare(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := testsupport.NewEmulator(t, cfg)
	idx := indexing.NewIndexer(cfg, svc, logging.NewNop())
	if h := idx.HealthCheck(context.Background()); h.Ready {
		t.Fatal("expected unhealthy before Prepare")
	}

	rec := jobrecord.New(filepath.Join(cfg.Paths.ProcessingDir, "a.wav"), 1)
	rec.SetInputAsset(jobrecord.AssetRef{ID: "asset-x"})
	err := idx.Execute(context.Background(), rec)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	for _, call := range svc.Calls() {
		if call.Op == "CreateJob" || call.Op == "SubmitJob" {
			t.Fatalf("job submitted before reserved units were declared: %+v", svc.Calls())
		}
	}
}

func TestPrepareDeclaresReservedUnits(t *testing.T) {
	f := newFixture(t, testsupport.WithReservedUnits(3))
	units, err := f.svc.ReservedUnits(context.Background())
	if err != nil || units.Count != 3 || units.Type != mediasvc.ReservedUnitS1 {
		t.Fatalf("unexpected reserved units %+v %v", units, err)
	}
	if h := f.idx.HealthCheck(context.Background()); !h.Ready {
		t.Fatalf("expected healthy after Prepare, got %+v", h)
	}
}

func TestTaskConfigurationFromFile(t *testing.T) {
	blob := `{"version":"1.0","Marker":"custom-task-config"}`
	path := filepath.Join(t.TempDir(), "task.json")
	if err := os.WriteFile(path, []byte(blob), 0o644); err != nil {
		t.Fatalf("write task config: %v", err)
	}
	f := newFixture(t, testsupport.WithTaskConfigFile(path))
	rec := f.uploaded(t, "conf.wav", "configured")
	if err := f.idx.Execute(context.Background(), rec); err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	out, _ := rec.OutputAsset()
	files, _ := f.svc.ListFiles(context.Background(), out.ID)
	var doc strings.Builder
	for _, file := range files {
		if strings.HasSuffix(file.Name, ".index.json") {
			if err := f.svc.DownloadFile(context.Background(), out.ID, file.ID, &doc); err != nil {
				t.Fatalf("download index: %v", err)
			}
		}
	}
	if !strings.Contains(doc.String(), "custom-task-config") {
		t.Fatalf("task configuration not passed to job: %s", doc.String())
	}
}

func TestTaskConfigurationMustBeJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "task.json")
	if err := os.WriteFile(path, []byte("<preset/>"), 0o644); err != nil {
		t.Fatalf("write task config: %v", err)
	}
	f := newFixture(t, testsupport.WithTaskConfigFile(path))
	rec := f.uploaded(t, "bad.wav", "configured")
	err := f.idx.Execute(context.Background(), rec)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
