package results

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"mediaindex/internal/jobrecord"
)

// TextLogHeader is the first line of every daily results file.
const TextLogHeader = "|File|Total (s)|Input exposure (s)|Output exposure (s)|"

// TextLog appends results to results-YYYYMMDD.txt in a directory, starting a
// new file each local day.
type TextLog struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewTextLog writes daily files into dir.
func NewTextLog(dir string) *TextLog {
	return &TextLog{dir: dir, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (l *TextLog) WithClock(now func() time.Time) *TextLog {
	l.now = now
	return l
}

// PathFor returns the results file used on day.
func (l *TextLog) PathFor(day time.Time) string {
	return filepath.Join(l.dir, "results-"+day.Format("20060102")+".txt")
}

// Consume implements Sink.
func (l *TextLog) Consume(_ context.Context, rec *jobrecord.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.PathFor(l.now())
	_, statErr := os.Stat(path)
	fresh := errors.Is(statErr, fs.ErrNotExist)

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results file: %w", err)
	}
	defer f.Close()

	if fresh {
		if _, err := fmt.Fprintln(f, TextLogHeader); err != nil {
			return fmt.Errorf("write results header: %w", err)
		}
	}
	t := rec.Timings()
	if _, err := fmt.Fprintf(f, "|%s|%.3f|%.3f|%.3f|\n",
		rec.FileName(), t.Total.Seconds(), t.InputExposure.Seconds(), t.OutputExposure.Seconds()); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
