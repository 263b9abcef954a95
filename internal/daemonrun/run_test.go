package daemonrun_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"mediaindex/internal/daemonrun"
	"mediaindex/internal/ipc"
	"mediaindex/internal/results"
	"mediaindex/internal/testsupport"
)

func TestRunProcessesFilesAndDrainsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.SourceFile(t, cfg.Paths.SourceDir, "a.wav", "spoken words")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "error"}) }()

	textLog := results.NewTextLog(cfg.Paths.ResultsDir).PathFor(time.Now())
	testsupport.WaitFor(t, 10*time.Second, "results text log", func() bool {
		data, err := os.ReadFile(textLog)
		return err == nil && len(data) > len(results.TextLogHeader)+1
	})

	client, err := ipc.Dial(cfg.DaemonSocketPath())
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	status, err := client.Status()
	client.Close()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.PID != os.Getpid() {
		t.Fatalf("unexpected status %+v", status)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if _, err := os.Stat(cfg.DaemonSocketPath()); !os.IsNotExist(err) {
		t.Fatalf("expected socket removed, stat err %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.Paths.LogDir, "mediaindex.pid")); !os.IsNotExist(err) {
		t.Fatalf("expected pid file removed, stat err %v", err)
	}

	ledger, err := results.OpenLedger(cfg.LedgerPath())
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	defer ledger.Close()
	entries, err := ledger.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 1 || entries[0].FileName != "a.wav" {
		t.Fatalf("unexpected ledger entries %+v", entries)
	}
}

func TestRunFailsPreflight(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Indexing.TaskConfigFile = filepath.Join(t.TempDir(), "missing.json")
	if err := daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: "error"}); err == nil {
		t.Fatal("expected preflight failure")
	}
}
