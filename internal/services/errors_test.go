package services_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"mediaindex/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrRemote, "upload", "create asset", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrRemote) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"upload", "create asset", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected fallback detail, got %q", err.Error())
	}
}

func TestDetailsClassification(t *testing.T) {
	tests := []struct {
		err  error
		kind string
	}{
		{services.Wrap(services.ErrJobFailed, "indexing", "monitor", "job ended in error", nil), "job_failed"},
		{services.Wrap(services.ErrJobCanceled, "indexing", "monitor", "job canceled", nil), "job_canceled"},
		{fmt.Errorf("outer: %w", services.Wrap(services.ErrRemote, "download", "list", "", errors.New("io"))), "remote"},
		{services.Wrap(services.ErrConfiguration, "indexing", "prepare", "bad quota", nil), "configuration"},
		{errors.New("plain"), "transient"},
	}
	for _, tc := range tests {
		details := services.Details(tc.err)
		if details.Kind != tc.kind {
			t.Fatalf("Details(%v).Kind = %q, want %q", tc.err, details.Kind, tc.kind)
		}
		if details.Hint == "" {
			t.Fatalf("expected hint for %q", tc.kind)
		}
		if details.Message != tc.err.Error() {
			t.Fatalf("unexpected message %q", details.Message)
		}
	}
	if services.Details(nil) != (services.ErrorDetails{}) {
		t.Fatal("expected empty details for nil error")
	}
}
