package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"mediaindex/internal/config"
	"mediaindex/internal/daemon"
	"mediaindex/internal/ipc"
	"mediaindex/internal/logging"
	"mediaindex/internal/results"
	"mediaindex/internal/testsupport"
)

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	daemon     *daemon.Daemon
	ledger     *results.Ledger
}

// setupCLIConfig writes a test configuration to disk without starting a
// daemon.
func setupCLIConfig(t *testing.T) *cliTestEnv {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t)
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{cfg: cfg, configPath: configPath}
}

// setupCLITestEnv additionally runs a daemon that records results in the
// configured ledger and serves IPC on the configured socket.
func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	env := setupCLIConfig(t)
	ledger, err := results.OpenLedger(env.cfg.LedgerPath())
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	env.ledger = ledger

	logger := logging.NewNop()
	d, err := daemon.New(env.cfg, testsupport.NewEmulator(t, env.cfg), results.Multi{ledger}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	env.daemon = d

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		t.Fatalf("daemon Start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, env.cfg.DaemonSocketPath(), d, logger)
	if err != nil {
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		_ = d.Stop(context.Background())
		cancel()
		srv.Close()
		d.Close()
		ledger.Close()
	})
	return env
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--config", env.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
