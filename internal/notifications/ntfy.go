package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediaindex/internal/config"
	"mediaindex/internal/jobrecord"
)

const userAgent = "mediaindex/0.1.0"

// Notifier posts completed records to an ntfy topic.
type Notifier struct {
	endpoint     string
	client       *http.Client
	failuresOnly bool
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

// New returns a notifier for the configured topic, or nil when no topic is
// set. A nil Notifier accepts and drops every record.
func New(cfg *config.Config) *Notifier {
	if cfg == nil {
		return nil
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return nil
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		endpoint:     topic,
		client:       &http.Client{Timeout: timeout},
		failuresOnly: cfg.Notifications.FailuresOnly,
	}
}

// Consume implements the results sink interface.
func (n *Notifier) Consume(ctx context.Context, rec *jobrecord.Record) error {
	if n == nil || rec == nil {
		return nil
	}
	if n.failuresOnly && len(rec.FailedFiles) == 0 {
		return nil
	}
	return n.send(ctx, format(rec))
}

func format(rec *jobrecord.Record) message {
	t := rec.Timings()
	body := fmt.Sprintf("Indexed %s in %s\nInput exposed %s, output exposed %s",
		rec.FileName(), round(t.Total), round(t.InputExposure), round(t.OutputExposure))
	if len(rec.FailedFiles) == 0 {
		return message{
			title: "mediaindex - Indexed",
			body:  body,
			tags:  []string{"mediaindex", "indexed"},
		}
	}
	return message{
		title:    "mediaindex - Download Failures",
		body:     body + "\nFailed: " + strings.Join(rec.FailedFiles, ", "),
		tags:     []string{"mediaindex", "download", "failed"},
		priority: "high",
	}
}

func round(d time.Duration) time.Duration {
	return d.Round(10 * time.Millisecond)
}

func (n *Notifier) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	req.Header.Set("Title", msg.title)
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
