package api

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store provides SQLite persistence for tunnel status history.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new store with the given database path.
// Use ":memory:" for an in-memory database.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection to ":memory:" would see an empty database.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`PRAGMA journal_mode = WAL;`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	s := &Store{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return s, nil
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tunnel_transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		target_url TEXT NOT NULL,
		tunnel_url TEXT NOT NULL,
		old_status TEXT,
		new_status TEXT NOT NULL,
		at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tunnel_transitions_target ON tunnel_transitions(target_url);
	CREATE INDEX IF NOT EXISTS idx_tunnel_transitions_at ON tunnel_transitions(at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTransition appends a status change and sets its ID.
func (s *Store) RecordTransition(t *Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.At.IsZero() {
		t.At = time.Now()
	}
	res, err := s.db.Exec(`
		INSERT INTO tunnel_transitions (kind, target_url, tunnel_url, old_status, new_status, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, t.Kind, t.TargetURL, t.TunnelURL, t.OldStatus, t.NewStatus, t.At.UTC())
	if err != nil {
		return err
	}
	t.ID, err = res.LastInsertId()
	return err
}

// ListTransitions returns transitions, most recent first. A non-empty
// target restricts the result to one target URL.
func (s *Store) ListTransitions(target string, limit, offset int) ([]Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, kind, target_url, tunnel_url, old_status, new_status, at
		FROM tunnel_transitions`
	args := []any{}
	if target != "" {
		query += ` WHERE target_url = ?`
		args = append(args, target)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var old sql.NullString
		if err := rows.Scan(&t.ID, &t.Kind, &t.TargetURL, &t.TunnelURL, &old, &t.NewStatus, &t.At); err != nil {
			return nil, err
		}
		if old.Valid {
			t.OldStatus = old.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountTransitions returns the number of recorded transitions.
func (s *Store) CountTransitions() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM tunnel_transitions").Scan(&count)
	return count, err
}

// PruneBefore deletes transitions older than cutoff and returns how many
// were removed.
func (s *Store) PruneBefore(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("DELETE FROM tunnel_transitions WHERE at < ?", cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
