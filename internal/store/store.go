// Package store persists finished transcripts in SQLite so repeat requests
// for the same video skip the acquisition pipeline entirely.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
	video_id     TEXT PRIMARY KEY,
	transcript   TEXT NOT NULL,
	stage_winner TEXT NOT NULL,
	languages    TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created_at ON transcripts(created_at);
`

// Record is one cached transcript.
type Record struct {
	VideoID     string
	Transcript  string
	StageWinner string
	Languages   []string
	CreatedAt   time.Time
}

// Store manages transcript persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the transcript database at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store open: empty database path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store open: ensure directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store open: init schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached transcript for a video, if any.
func (s *Store) Get(ctx context.Context, videoID string) (Record, bool, error) {
	ctx = ensureContext(ctx)
	var (
		record    Record
		languages string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT video_id, transcript, stage_winner, languages, created_at
		 FROM transcripts WHERE video_id = ?`, videoID,
	).Scan(&record.VideoID, &record.Transcript, &record.StageWinner, &languages, &record.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("store get: %w", err)
	}
	if languages != "" {
		record.Languages = strings.Split(languages, ",")
	}
	return record, true, nil
}

// Put inserts or replaces the cached transcript for a video.
func (s *Store) Put(ctx context.Context, record Record) error {
	if record.VideoID == "" || record.Transcript == "" {
		return errors.New("store put: video id and transcript required")
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return s.execWithRetry(ensureContext(ctx),
		`INSERT INTO transcripts (video_id, transcript, stage_winner, languages, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(video_id) DO UPDATE SET
			transcript = excluded.transcript,
			stage_winner = excluded.stage_winner,
			languages = excluded.languages,
			created_at = excluded.created_at`,
		record.VideoID, record.Transcript, record.StageWinner,
		strings.Join(record.Languages, ","), createdAt,
	)
}

// Count reports how many transcripts are cached.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx), `SELECT COUNT(*) FROM transcripts`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store count: %w", err)
	}
	return count, nil
}

// PruneOlderThan removes cached transcripts created before the cutoff and
// returns how many rows were deleted.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx = ensureContext(ctx)
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE created_at < ?`, cutoff)
		return execErr
	}); err != nil {
		return 0, fmt.Errorf("store prune: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store prune: rows affected: %w", err)
	}
	return affected, nil
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

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
