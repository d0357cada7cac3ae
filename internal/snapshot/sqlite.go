package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	profile  TEXT PRIMARY KEY,
	saved_at INTEGER NOT NULL,
	data     BLOB NOT NULL
);`

// SQLiteStore keeps one row per profile in a SQLite database.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// OpenSQLite opens (creating if needed) the database at path. ":memory:"
// opens a private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite snapshot store: path required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating snapshot directory: %w", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One writer connection; an in-memory database is also per-connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing snapshot schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database location.
func (s *SQLiteStore) Path() string { return s.path }

func (s *SQLiteStore) Load(ctx context.Context, profile string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var (
		savedAt int64
		data    []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT saved_at, data FROM snapshots WHERE profile = ?`, profile,
	).Scan(&savedAt, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, profile)
	}
	if err != nil {
		return nil, fmt.Errorf("loading snapshot %q: %w", profile, err)
	}
	return &Snapshot{
		Profile: profile,
		SavedAt: time.Unix(0, savedAt).UTC(),
		Data:    data,
	}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (profile, saved_at, data) VALUES (?, ?, ?)
		 ON CONFLICT(profile) DO UPDATE SET saved_at = excluded.saved_at, data = excluded.data`,
		snap.Profile, snap.SavedAt.UnixNano(), snap.Data,
	)
	if err != nil {
		return fmt.Errorf("saving snapshot %q: %w", snap.Profile, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, profile string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE profile = ?`, profile); err != nil {
		return fmt.Errorf("deleting snapshot %q: %w", profile, err)
	}
	return nil
}

func (s *SQLiteStore) Profiles(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT profile FROM snapshots ORDER BY profile`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
