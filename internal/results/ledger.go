package results

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mediaindex/internal/jobrecord"
)

// Ledger persists completed records in SQLite.
type Ledger struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Entry is one ledger row.
type Entry struct {
	RecordID        string
	FileName        string
	SourcePath      string
	SizeBytes       int64
	KeyID           string
	UploadStarted   time.Time
	UploadCompleted time.Time
	KeyRestored     time.Time
	InputDeleted    time.Time
	OutputCreated   time.Time
	OutputDeleted   time.Time
	Total           time.Duration
	InputExposure   time.Duration
	OutputExposure  time.Duration
	FailedFiles     []string
	RecordedAt      time.Time
}

// Summary aggregates the ledger.
type Summary struct {
	Count                 int
	FilesWithFailures     int
	AverageTotal          time.Duration
	AverageInputExposure  time.Duration
	MaxInputExposure      time.Duration
	AverageOutputExposure time.Duration
	MaxOutputExposure     time.Duration
	FirstCompleted        time.Time
	LastCompleted         time.Time
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// OpenLedger opens or creates the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	ledger := &Ledger{db: db, path: path, now: time.Now}
	if err := ledger.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// Path returns the database file location.
func (l *Ledger) Path() string { return l.path }

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Consume implements Sink.
func (l *Ledger) Consume(ctx context.Context, rec *jobrecord.Record) error {
	return l.Insert(ctx, EntryFromRecord(rec, l.now()))
}

// EntryFromRecord captures a record's timestamps and derived durations.
func EntryFromRecord(rec *jobrecord.Record, recordedAt time.Time) Entry {
	t := rec.Timings()
	return Entry{
		RecordID:        rec.ID,
		FileName:        rec.FileName(),
		SourcePath:      rec.SourcePath,
		SizeBytes:       rec.Size,
		KeyID:           rec.KeyID,
		UploadStarted:   rec.At(jobrecord.UploadStarted),
		UploadCompleted: rec.At(jobrecord.UploadCompleted),
		KeyRestored:     rec.At(jobrecord.KeyRestored),
		InputDeleted:    rec.At(jobrecord.InputDeleted),
		OutputCreated:   rec.At(jobrecord.OutputCreated),
		OutputDeleted:   rec.At(jobrecord.OutputDeleted),
		Total:           t.Total,
		InputExposure:   t.InputExposure,
		OutputExposure:  t.OutputExposure,
		FailedFiles:     append([]string(nil), rec.FailedFiles...),
		RecordedAt:      recordedAt,
	}
}

// Insert stores an entry.
func (l *Ledger) Insert(ctx context.Context, e Entry) error {
	failed, err := json.Marshal(nonNil(e.FailedFiles))
	if err != nil {
		return fmt.Errorf("encode failed files: %w", err)
	}
	return retryOnBusy(ctx, func() error {
		_, err := l.db.ExecContext(ctx, `INSERT INTO results (
			record_id, file_name, source_path, size_bytes, key_id,
			upload_started, upload_completed, key_restored, input_deleted, output_created, output_deleted,
			total_ns, input_exposure_ns, output_exposure_ns, failed_files, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.RecordID, e.FileName, e.SourcePath, e.SizeBytes, e.KeyID,
			formatTime(e.UploadStarted), formatTime(e.UploadCompleted), formatTime(e.KeyRestored),
			formatTime(e.InputDeleted), formatTime(e.OutputCreated), formatTime(e.OutputDeleted),
			int64(e.Total), int64(e.InputExposure), int64(e.OutputExposure), string(failed), formatTime(e.RecordedAt),
		)
		if err != nil {
			return fmt.Errorf("insert result %s: %w", e.FileName, err)
		}
		return nil
	})
}

// List returns the most recent entries, newest first. A limit <= 0 returns
// every entry.
func (l *Ledger) List(ctx context.Context, limit int) ([]Entry, error) {
	query := `SELECT record_id, file_name, source_path, size_bytes, key_id,
		upload_started, upload_completed, key_restored, input_deleted, output_created, output_deleted,
		total_ns, input_exposure_ns, output_exposure_ns, failed_files, recorded_at
		FROM results ORDER BY output_deleted DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return entries, nil
}

// Summary aggregates every entry in the ledger.
func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	var (
		s                       Summary
		avgTotal, avgIn, avgOut sql.NullFloat64
		maxIn, maxOut           sql.NullInt64
		first, last             sql.NullString
	)
	err := l.db.QueryRowContext(ctx, `SELECT COUNT(1),
		COALESCE(SUM(CASE WHEN failed_files != '[]' THEN 1 ELSE 0 END), 0),
		AVG(total_ns), AVG(input_exposure_ns), MAX(input_exposure_ns),
		AVG(output_exposure_ns), MAX(output_exposure_ns),
		MIN(output_deleted), MAX(output_deleted)
		FROM results`).Scan(&s.Count, &s.FilesWithFailures, &avgTotal, &avgIn, &maxIn, &avgOut, &maxOut, &first, &last)
	if err != nil {
		return Summary{}, fmt.Errorf("summarise results: %w", err)
	}
	s.AverageTotal = time.Duration(avgTotal.Float64)
	s.AverageInputExposure = time.Duration(avgIn.Float64)
	s.MaxInputExposure = time.Duration(maxIn.Int64)
	s.AverageOutputExposure = time.Duration(avgOut.Float64)
	s.MaxOutputExposure = time.Duration(maxOut.Int64)
	if first.Valid {
		s.FirstCompleted, _ = parseTime(first.String)
	}
	if last.Valid {
		s.LastCompleted, _ = parseTime(last.String)
	}
	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e                                    Entry
		times                                [7]string
		total, inputExposure, outputExposure int64
		failed                               string
	)
	if err := row.Scan(&e.RecordID, &e.FileName, &e.SourcePath, &e.SizeBytes, &e.KeyID,
		&times[0], &times[1], &times[2], &times[3], &times[4], &times[5],
		&total, &inputExposure, &outputExposure, &failed, &times[6]); err != nil {
		return Entry{}, fmt.Errorf("scan result: %w", err)
	}
	targets := []*time.Time{&e.UploadStarted, &e.UploadCompleted, &e.KeyRestored, &e.InputDeleted, &e.OutputCreated, &e.OutputDeleted, &e.RecordedAt}
	for i, target := range targets {
		ts, err := parseTime(times[i])
		if err != nil {
			return Entry{}, fmt.Errorf("parse result timestamp: %w", err)
		}
		*target = ts
	}
	e.Total = time.Duration(total)
	e.InputExposure = time.Duration(inputExposure)
	e.OutputExposure = time.Duration(outputExposure)
	if err := json.Unmarshal([]byte(failed), &e.FailedFiles); err != nil {
		return Entry{}, fmt.Errorf("decode failed files: %w", err)
	}
	return e, nil
}

// timeLayout keeps a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	return time.Parse(timeLayout, value)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
