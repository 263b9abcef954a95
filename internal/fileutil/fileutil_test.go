package fileutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestMoveInto(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "in", "talk.wav")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("hello world"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := MoveInto(src, filepath.Join(dir, "done"))
	if err != nil {
		t.Fatal(err)
	}
	if dst != filepath.Join(dir, "done", "talk.wav") {
		t.Fatalf("unexpected destination %s", dst)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatalf("source still present: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "hello world" {
		t.Fatalf("content mismatch: %q %v", got, err)
	}
}

func TestMoveIntoAvoidsOverwrite(t *testing.T) {
	dir := t.TempDir()
	done := filepath.Join(dir, "done")
	if err := os.MkdirAll(done, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(done, "a.wav"), []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(done, "a-1.wav"), []byte("older"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := MoveInto(src, done)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dst) != "a-2.wav" {
		t.Fatalf("expected a-2.wav, got %s", dst)
	}
	old, _ := os.ReadFile(filepath.Join(done, "a.wav"))
	if string(old) != "old" {
		t.Fatalf("existing file overwritten: %q", old)
	}
}

func TestCopyFileVerified(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	dst := filepath.Join(dir, "dst.bin")
	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := CopyFileVerified(src, dst); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dst)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode mismatch: got %o", info.Mode().Perm())
	}
	if err := CopyFileVerified(src, dst); err == nil {
		t.Fatal("expected copy onto existing file to fail")
	}
}

func TestCopyFileVerifiedMissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFileVerified(filepath.Join(dir, "missing"), filepath.Join(dir, "dst")); err == nil {
		t.Fatal("expected error for missing source")
	}
}
