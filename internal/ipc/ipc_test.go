package ipc_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"mediaindex/internal/daemon"
	"mediaindex/internal/ipc"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/logging"
	"mediaindex/internal/testsupport"
)

type collector struct {
	mu    sync.Mutex
	count int
}

func (c *collector) Consume(context.Context, *jobrecord.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return nil
}

func (c *collector) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func TestIPCServerClient(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	svc := testsupport.NewEmulator(t, cfg)
	sink := &collector{}
	logger := logging.NewNop()
	d, err := daemon.New(cfg, svc, sink, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(d.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	socket := cfg.DaemonSocketPath()
	srv, err := ipc.NewServer(ctx, socket, d, logger)
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	t.Cleanup(srv.Close)

	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	status, err := client.Status()
	if err != nil {
		t.Fatalf("Status RPC failed: %v", err)
	}
	if !status.Running || status.LockPath != cfg.DaemonLockPath() {
		t.Fatalf("unexpected status %+v", status)
	}
	if len(status.Stages) != 3 || status.Stages[0].Name != "upload" || status.Stages[2].Name != "download" {
		t.Fatalf("unexpected stages %+v", status.Stages)
	}
	for _, st := range status.Stages {
		if !st.Ready {
			t.Fatalf("stage %s not ready: %s", st.Name, st.Detail)
		}
	}

	manual := testsupport.SourceFile(t, t.TempDir(), "manual.wav", "spoken words")
	missing := filepath.Join(t.TempDir(), "missing.wav")
	submitResp, err := client.Submit([]string{manual, missing})
	if err != nil {
		t.Fatalf("Submit RPC failed: %v", err)
	}
	if len(submitResp.Accepted) != 1 || submitResp.Accepted[0] != manual {
		t.Fatalf("unexpected accepted list %+v", submitResp.Accepted)
	}
	if len(submitResp.Rejected) != 1 || submitResp.Rejected[0].Path != missing || submitResp.Rejected[0].Reason == "" {
		t.Fatalf("unexpected rejected list %+v", submitResp.Rejected)
	}
	testsupport.WaitFor(t, 10*time.Second, "submitted file to reach the sink", func() bool { return sink.total() == 1 })

	if _, err := client.Submit(nil); err == nil {
		t.Fatal("expected empty submit to fail")
	}

	stopResp, err := client.Stop()
	if err != nil {
		t.Fatalf("Stop RPC failed: %v", err)
	}
	if !stopResp.Stopping {
		t.Fatal("expected stop to be initiated")
	}
	select {
	case <-d.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("daemon did not stop")
	}
	status, err = client.Status()
	if err != nil {
		t.Fatalf("Status RPC after stop failed: %v", err)
	}
	if status.Running {
		t.Fatal("expected daemon to report stopped")
	}
}

func TestCloseRemovesSocket(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := daemon.New(cfg, testsupport.NewEmulator(t, cfg), &collector{}, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	socket := cfg.DaemonSocketPath()
	srv, err := ipc.NewServer(context.Background(), socket, d, logging.NewNop())
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC server test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()
	client, err := ipc.Dial(socket)
	if err != nil {
		t.Fatalf("ipc.Dial: %v", err)
	}
	defer client.Close()

	srv.Close()
	if _, err := os.Stat(socket); !os.IsNotExist(err) {
		t.Fatalf("expected socket to be removed, stat err %v", err)
	}
	if _, err := ipc.Dial(socket); err == nil {
		t.Fatal("expected dial to fail after close")
	}
}
