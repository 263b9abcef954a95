package daemon_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"mediaindex/internal/daemon"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
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

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func stop(t *testing.T, d *daemon.Daemon) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestDaemonStartStop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := testsupport.NewEmulator(t, cfg)
	d, err := daemon.New(cfg, svc, &collector{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Close)

	ctx := context.Background()
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	status := d.Status(ctx)
	if !status.Running {
		t.Fatal("expected daemon to report running")
	}
	if status.LockFilePath != cfg.DaemonLockPath() || status.PID != os.Getpid() {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Pipeline.Stages) != 3 {
		t.Fatalf("expected three stages in status, got %d", len(status.Pipeline.Stages))
	}

	if err := d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	stop(t, d)
	select {
	case <-d.Done():
	default:
		t.Fatal("expected Done to be closed after Stop")
	}
	if d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := d.Start(ctx); !errors.Is(err, daemon.ErrStopped) {
		t.Fatalf("expected ErrStopped on restart, got %v", err)
	}
}

func TestSecondInstanceIsRejected(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := testsupport.NewEmulator(t, cfg)
	first, err := daemon.New(cfg, svc, &collector{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(first.Close)
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { stop(t, first) })

	second, err := daemon.New(cfg, svc, &collector{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(second.Close)
	if err := second.Start(context.Background()); !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestIntakeFilesFlowToSinkAndProcessedDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	for _, name := range []string{"a.wav", "b.wav"} {
		testsupport.SourceFile(t, cfg.Paths.SourceDir, name, "spoken words in "+name)
	}
	testsupport.SourceFile(t, cfg.Paths.SourceDir, ".partial.wav", "ignored")

	svc := testsupport.NewEmulator(t, cfg)
	sink := &collector{}
	d, err := daemon.New(cfg, svc, sink, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Close)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	testsupport.WaitFor(t, 10*time.Second, "both files to reach the sink", func() bool { return sink.count() == 2 })
	stop(t, d)

	for _, name := range []string{"a.wav", "b.wav"} {
		if _, err := os.Stat(filepath.Join(cfg.Paths.ProcessedDir, name)); err != nil {
			t.Fatalf("expected %s in processed dir: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.SourceDir, ".partial.wav")); err != nil {
		t.Fatalf("expected dotfile to stay in the source dir: %v", err)
	}
	if len(svc.Assets()) != 0 {
		t.Fatalf("expected no remote assets left, got %+v", svc.Assets())
	}
}

func TestManualSubmit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := testsupport.NewEmulator(t, cfg)
	sink := &collector{}
	d, err := daemon.New(cfg, svc, sink, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Close)

	elsewhere := testsupport.SourceFile(t, t.TempDir(), "manual.wav", "manual words")
	if err := d.Submit(elsewhere); err == nil {
		t.Fatal("expected submit before start to fail")
	}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Submit(t.TempDir()); err == nil {
		t.Fatal("expected directory submit to fail")
	}
	if err := d.Submit(elsewhere); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	testsupport.WaitFor(t, 10*time.Second, "manual file to reach the sink", func() bool { return sink.count() == 1 })
	stop(t, d)

	if _, err := os.Stat(elsewhere); !os.IsNotExist(err) {
		t.Fatalf("expected manual file to be moved, stat err %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.ProcessedDir, "manual.wav")); err != nil {
		t.Fatalf("expected manual file in processed dir: %v", err)
	}
}
