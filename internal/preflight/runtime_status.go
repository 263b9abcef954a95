package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediaindex/internal/config"
)

// Backlog is a snapshot of the intake directories.
type Backlog struct {
	// Waiting counts files in the source directory that intake would claim.
	Waiting int
	// Stranded counts files left in the processing directory. While the
	// daemon is stopped these are uploads that failed and need review.
	Stranded int
	Err      error
}

// ProbeBacklog counts files waiting for intake and files left behind in the
// processing directory.
func ProbeBacklog(cfg *config.Config) Backlog {
	if cfg == nil {
		return Backlog{Err: fmt.Errorf("configuration unavailable")}
	}
	waiting, err := countFiles(cfg.Paths.SourceDir, cfg.Intake.Pattern)
	if err != nil {
		return Backlog{Err: err}
	}
	stranded, err := countFiles(cfg.Paths.ProcessingDir, "")
	if err != nil {
		return Backlog{Waiting: waiting, Err: err}
	}
	return Backlog{Waiting: waiting, Stranded: stranded}
}

func countFiles(dir, pattern string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if pattern != "" {
			if ok, _ := filepath.Match(pattern, name); !ok {
				continue
			}
		}
		n++
	}
	return n, nil
}

// Detail renders a display-friendly summary for status output.
func (b Backlog) Detail() string {
	if b.Err != nil {
		return fmt.Sprintf("unavailable (%v)", b.Err)
	}
	if b.Waiting == 0 && b.Stranded == 0 {
		return "No files waiting"
	}
	return fmt.Sprintf("%d waiting, %d in processing", b.Waiting, b.Stranded)
}
