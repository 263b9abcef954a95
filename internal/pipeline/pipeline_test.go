package pipeline_test

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/mediasvc"
	"mediaindex/internal/mediasvc/emulator"
	"mediaindex/internal/pipeline"
	"mediaindex/internal/results"
	"mediaindex/internal/testsupport"
)

type collector struct {
	mu      sync.Mutex
	records []*jobrecord.Record
}

func (c *collector) Consume(_ context.Context, rec *jobrecord.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func (c *collector) names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var names []string
	for _, rec := range c.records {
		names = append(names, rec.FileName())
	}
	sort.Strings(names)
	return names
}

type harness struct {
	cfg      *config.Config
	svc      *emulator.Service
	pipe     *pipeline.Pipeline
	sink     *collector
	uploaded []string
	mu       sync.Mutex
}

func start(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	h := &harness{sink: &collector{}}
	h.cfg = testsupport.NewConfig(t, opts...)
	h.svc = testsupport.NewEmulator(t, h.cfg)
	h.pipe = pipeline.New(h.cfg, h.svc, results.Multi{h.sink}, logging.NewNop(), pipeline.Hooks{
		OnUploaded: func(path string) {
			h.mu.Lock()
			h.uploaded = append(h.uploaded, path)
			h.mu.Unlock()
		},
	})
	if err := h.pipe.Start(context.Background()); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	return h
}

func (h *harness) submit(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		path := testsupport.SourceFile(t, h.cfg.Paths.ProcessingDir, name, "indexed words for "+name)
		if err := h.pipe.Submit(path); err != nil {
			t.Fatalf("Submit(%s): %v", name, err)
		}
	}
}

func (h *harness) shutdown(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := h.pipe.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown returned error: %v", err)
	}
}

func TestEveryFileReachesSinkWithOrderedTimestamps(t *testing.T) {
	h := start(t)
	h.submit(t, "a.wav", "b.wav", "c.wav", "d.wav")
	h.shutdown(t)

	if got := h.sink.names(); !slices.Equal(got, []string{"a.wav", "b.wav", "c.wav", "d.wav"}) {
		t.Fatalf("unexpected sink contents %v", got)
	}
	for _, rec := range h.sink.records {
		if err := rec.Validate(); err != nil {
			t.Fatalf("%s: %v", rec.FileName(), err)
		}
		marks := jobrecord.Marks()
		for i := 1; i < len(marks); i++ {
			if rec.At(marks[i]).Before(rec.At(marks[i-1])) {
				t.Fatalf("%s: %s before %s", rec.FileName(), marks[i], marks[i-1])
			}
		}
	}
	if assets := h.svc.Assets(); len(assets) != 0 {
		t.Fatalf("expected no remote assets after shutdown, got %+v", assets)
	}
	if len(h.uploaded) != 4 {
		t.Fatalf("expected uploaded hook for each file, got %v", h.uploaded)
	}
	status := h.pipe.Status(context.Background())
	if status.Running || status.InFlight != 0 {
		t.Fatalf("unexpected status after shutdown %+v", status)
	}
	for _, st := range status.Stages {
		if st.Completed != 4 || st.Failed != 0 {
			t.Fatalf("unexpected %s counters %+v", st.Name, st.Stats)
		}
	}
}

func TestReservedUnitsBoundConcurrentJobs(t *testing.T) {
	h := start(t,
		testsupport.WithReservedUnits(2),
		testsupport.WithConcurrency(3, 2, 3),
		testsupport.WithJobTimings(time.Millisecond, 50*time.Millisecond),
	)
	h.submit(t, "one.wav", "two.wav", "three.wav")
	h.shutdown(t)

	if len(h.sink.records) != 3 {
		t.Fatalf("expected three completed records, got %v", h.sink.names())
	}
	recs := slices.Clone(h.sink.records)
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].At(jobrecord.KeyRestored).Before(recs[j].At(jobrecord.KeyRestored))
	})
	last := recs[2]

	var terminals []time.Time
	for _, rec := range recs[:2] {
		jobID, ok := h.svc.JobIDByName("Indexing Job:" + rec.FileName())
		if !ok {
			t.Fatalf("no job for %s", rec.FileName())
		}
		for _, tr := range h.svc.JobHistory(jobID) {
			if tr.State.Terminal() {
				terminals = append(terminals, tr.At)
			}
		}
	}
	if len(terminals) != 2 {
		t.Fatalf("expected two terminal transitions, got %v", terminals)
	}
	earliest := terminals[0]
	if terminals[1].Before(earliest) {
		earliest = terminals[1]
	}
	if last.At(jobrecord.KeyRestored).Before(earliest) {
		t.Fatalf("%s restored its key at %s before either earlier job ended (%s)",
			last.FileName(), last.At(jobrecord.KeyRestored), earliest)
	}

	for _, st := range h.pipe.Status(context.Background()).Stages {
		if st.PeakActive > st.Limit {
			t.Fatalf("%s peaked at %d above limit %d", st.Name, st.PeakActive, st.Limit)
		}
	}
}

func TestUploadFailureDropsOnlyThatFile(t *testing.T) {
	h := start(t)
	h.svc.SetFaults(emulator.Faults{Upload: func(_, file string) error {
		if file == "two.wav" {
			return errors.New("connection reset")
		}
		return nil
	}})
	h.submit(t, "one.wav", "two.wav", "three.wav")
	h.shutdown(t)

	if got := h.sink.names(); !slices.Equal(got, []string{"one.wav", "three.wav"}) {
		t.Fatalf("unexpected sink contents %v", got)
	}

	calls := h.svc.Calls()
	created := -1
	var assetID string
	for i, call := range calls {
		if call.Op == "CreateAsset" && call.Target == "Input Asset:two.wav" {
			created, assetID = i, call.AssetID
		}
	}
	if created < 0 || assetID == "" {
		t.Fatalf("no asset created for two.wav: %+v", calls)
	}
	deleted := false
	for _, call := range calls[created+1:] {
		if call.Op == "DeleteAsset" && call.Target == assetID {
			deleted = true
		}
	}
	if !deleted {
		t.Fatalf("asset %s for two.wav was never deleted", assetID)
	}
	if _, ok := h.svc.JobIDByName("Indexing Job:two.wav"); ok {
		t.Fatal("indexing job created for failed upload")
	}
	if len(h.svc.Assets()) != 0 {
		t.Fatalf("remote assets left behind: %+v", h.svc.Assets())
	}
	for _, st := range h.pipe.Status(context.Background()).Stages {
		if st.Name == "upload" && st.Failed != 1 {
			t.Fatalf("expected one failed upload, got %+v", st.Stats)
		}
	}
}

func TestFailedJobIsNotForwarded(t *testing.T) {
	h := start(t)
	h.svc.SetFaults(emulator.Faults{Job: func(name string) (mediasvc.TaskError, bool) {
		return mediasvc.TaskError{Code: "Unsupported", Message: "bad media"}, name == "Indexing Job:bad.wav"
	}})
	h.submit(t, "good.wav", "bad.wav")
	h.shutdown(t)

	if got := h.sink.names(); !slices.Equal(got, []string{"good.wav"}) {
		t.Fatalf("unexpected sink contents %v", got)
	}
	if len(h.svc.Assets()) != 0 {
		t.Fatalf("remote assets left behind: %+v", h.svc.Assets())
	}
}

func TestSubmitRejectsWhenBacklogFull(t *testing.T) {
	h := start(t, testsupport.WithMaxInFlight(1), testsupport.WithJobTimings(time.Millisecond, 50*time.Millisecond))
	h.submit(t, "first.wav")
	if got := h.pipe.Available(); got != 0 {
		t.Fatalf("expected no capacity left, got %d", got)
	}
	path := testsupport.SourceFile(t, h.cfg.Paths.ProcessingDir, "second.wav", "x")
	if err := h.pipe.Submit(path); !errors.Is(err, pipeline.ErrBacklogFull) {
		t.Fatalf("expected ErrBacklogFull, got %v", err)
	}

	testsupport.WaitFor(t, 10*time.Second, "capacity", func() bool { return h.pipe.Available() == 1 })
	if err := h.pipe.Submit(path); err != nil {
		t.Fatalf("Submit after capacity freed: %v", err)
	}
	h.shutdown(t)
	if len(h.sink.records) != 2 {
		t.Fatalf("expected both files processed, got %v", h.sink.names())
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	h := start(t)
	h.shutdown(t)
	path := testsupport.SourceFile(t, h.cfg.Paths.ProcessingDir, "late.wav", "x")
	if err := h.pipe.Submit(path); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
	h.shutdown(t)
}

func TestShutdownResumesAfterDeadline(t *testing.T) {
	h := start(t, testsupport.WithJobTimings(time.Millisecond, 300*time.Millisecond))
	h.submit(t, "slow.wav")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := h.pipe.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error from interrupted drain, got %v", err)
	}
	h.shutdown(t)

	if got := h.sink.names(); !slices.Equal(got, []string{"slow.wav"}) {
		t.Fatalf("expected resumed drain to deliver slow.wav, got %v", got)
	}
	if status := h.pipe.Status(context.Background()); status.InFlight != 0 {
		t.Fatalf("expected empty pipeline, got %+v", status)
	}
}

type quotaRefused struct {
	mediasvc.Service
}

func (quotaRefused) SetReservedUnits(context.Context, mediasvc.ReservedUnits) error {
	return errors.New("quota exceeded")
}

func TestStartFailsWhenQuotaCannotBeDeclared(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := testsupport.NewEmulator(t, cfg)
	pipe := pipeline.New(cfg, quotaRefused{Service: svc}, nil, logging.NewNop(), pipeline.Hooks{})
	if err := pipe.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if err := pipe.Submit("/nowhere/a.wav"); !errors.Is(err, pipeline.ErrNotRunning) {
		t.Fatalf("expected ErrNotRunning, got %v", err)
	}
}
