// Package session persists the live processing-session state in SQLite so
// it survives restarts and is readable from other processes. Every
// mutation is a synchronous transactional write and every Read reloads
// from disk.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MaxLogLines caps ConsoleLogs; older lines are evicted first.
const MaxLogLines = 1000

// Session is a point-in-time snapshot of the processing state.
type Session struct {
	IsProcessing bool
	CurrentCount int
	TotalCount   int
	Model        string
	ConsoleLogs  []string
	StartedAt    *time.Time
}

// Store manages session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the session database and applies the
// schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure session dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) applySchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS session_state (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            is_processing INTEGER NOT NULL DEFAULT 0,
            current_count INTEGER NOT NULL DEFAULT 0,
            total_count INTEGER NOT NULL DEFAULT 0,
            model TEXT NOT NULL DEFAULT '',
            started_at TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS session_logs (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            line TEXT NOT NULL
        )`,
		`INSERT OR IGNORE INTO session_state (id) VALUES (1)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Start marks a run as active, clearing progress and logs from any
// previous run.
func (s *Store) Start(ctx context.Context, total int, model string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin start: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx,
		`UPDATE session_state SET is_processing = 1, current_count = 0,
            total_count = ?, model = ?, started_at = ? WHERE id = 1`,
		total, model, now); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return tx.Commit()
}

// UpdateProgress records how many documents have completed.
func (s *Store) UpdateProgress(ctx context.Context, n int) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE session_state SET current_count = ? WHERE id = 1`, n); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// AppendLog adds a console line, evicting the oldest lines past the cap.
func (s *Store) AppendLog(ctx context.Context, msg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO session_logs (line) VALUES (?)`, msg); err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM session_logs WHERE seq <= (
            SELECT seq FROM session_logs ORDER BY seq DESC LIMIT 1 OFFSET ?
        )`, MaxLogLines); err != nil {
		return fmt.Errorf("evict logs: %w", err)
	}
	return tx.Commit()
}

// Stop clears the active flag; progress and logs stay readable.
func (s *Store) Stop(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE session_state SET is_processing = 0 WHERE id = 1`); err != nil {
		return fmt.Errorf("stop session: %w", err)
	}
	return nil
}

// Reset restores the pristine state.
func (s *Store) Reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reset: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE session_state SET is_processing = 0, current_count = 0,
            total_count = 0, model = '', started_at = NULL WHERE id = 1`); err != nil {
		return fmt.Errorf("reset session: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM session_logs`); err != nil {
		return fmt.Errorf("clear logs: %w", err)
	}
	return tx.Commit()
}

// Read loads the current state from disk.
func (s *Store) Read(ctx context.Context) (Session, error) {
	var (
		sess      Session
		procInt   int
		startedAt sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT is_processing, current_count, total_count, model, started_at
            FROM session_state WHERE id = 1`).
		Scan(&procInt, &sess.CurrentCount, &sess.TotalCount, &sess.Model, &startedAt)
	if err != nil {
		return Session{}, fmt.Errorf("read session: %w", err)
	}
	sess.IsProcessing = procInt != 0
	if startedAt.Valid {
		if t, perr := time.Parse(time.RFC3339Nano, startedAt.String); perr == nil {
			sess.StartedAt = &t
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT line FROM session_logs ORDER BY seq ASC`)
	if err != nil {
		return Session{}, fmt.Errorf("read logs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return Session{}, fmt.Errorf("scan log line: %w", err)
		}
		sess.ConsoleLogs = append(sess.ConsoleLogs, line)
	}
	if err := rows.Err(); err != nil {
		return Session{}, fmt.Errorf("iterate logs: %w", err)
	}
	return sess, nil
}
