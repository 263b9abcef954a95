package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/jobrecord"
	"mediaindex/internal/notifications"
)

type captured struct {
	calls    int
	title    string
	tags     string
	priority string
	body     string
}

func newServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	got := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		got.calls++
		got.title = r.Header.Get("Title")
		got.tags = r.Header.Get("Tags")
		got.priority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		got.body = string(body)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, got
}

func completed(name string) *jobrecord.Record {
	next := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rec := jobrecord.New("/work/"+name, 42).WithClock(func() time.Time {
		ts := next
		next = next.Add(time.Second)
		return ts
	})
	for _, mark := range jobrecord.Marks() {
		rec.Stamp(mark)
	}
	return rec
}

func configFor(url string) *config.Config {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = url
	cfg.Notifications.RequestTimeout = 5
	return &cfg
}

func TestNewReturnsNilWithoutTopic(t *testing.T) {
	cfg := config.Default()
	notifier := notifications.New(&cfg)
	if notifier != nil {
		t.Fatal("expected nil notifier without topic")
	}
	if err := notifier.Consume(context.Background(), completed("a.wav")); err != nil {
		t.Fatalf("nil notifier returned error: %v", err)
	}
}

func TestConsumePostsSummary(t *testing.T) {
	server, got := newServer(t, http.StatusOK)
	notifier := notifications.New(configFor(server.URL))

	if err := notifier.Consume(context.Background(), completed("talk.wav")); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.title != "mediaindex - Indexed" {
		t.Fatalf("unexpected title %q", got.title)
	}
	if got.tags != "mediaindex,indexed" || got.priority != "" {
		t.Fatalf("unexpected tags %q priority %q", got.tags, got.priority)
	}
	want := "Indexed talk.wav in 4s\nInput exposed 1s, output exposed 1s"
	if got.body != want {
		t.Fatalf("expected body %q, got %q", want, got.body)
	}
}

func TestConsumeFlagsFailedDownloads(t *testing.T) {
	server, got := newServer(t, http.StatusOK)
	notifier := notifications.New(configFor(server.URL))

	rec := completed("talk.wav")
	rec.FailedFiles = []string{"faces.json", "ocr.json"}
	if err := notifier.Consume(context.Background(), rec); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.priority != "high" || got.title != "mediaindex - Download Failures" {
		t.Fatalf("unexpected title %q priority %q", got.title, got.priority)
	}
	if !strings.HasSuffix(got.body, "Failed: faces.json, ocr.json") {
		t.Fatalf("failed files missing from body %q", got.body)
	}
}

func TestFailuresOnlySkipsCleanRecords(t *testing.T) {
	server, got := newServer(t, http.StatusOK)
	cfg := configFor(server.URL)
	cfg.Notifications.FailuresOnly = true
	notifier := notifications.New(cfg)

	if err := notifier.Consume(context.Background(), completed("clean.wav")); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got.calls != 0 {
		t.Fatalf("expected no request, got %d", got.calls)
	}
}

func TestConsumeReportsServerErrors(t *testing.T) {
	server, _ := newServer(t, http.StatusForbidden)
	notifier := notifications.New(configFor(server.URL))

	err := notifier.Consume(context.Background(), completed("talk.wav"))
	if err == nil || !strings.Contains(err.Error(), "403") {
		t.Fatalf("expected 403 error, got %v", err)
	}
}
