package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver (pure Go)
)

// SQLiteStore implements core.PreferenceStore using SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore creates a new SQLite state store instance.
func NewSQLiteStore() *SQLiteStore {
	return &SQLiteStore{}
}

// Open opens a connection to the SQLite database, creating its directory.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s.db = db
	s.path = path
	return nil
}

// Path returns the path passed to Open.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// InitSchema brings the schema up to date.
func (s *SQLiteStore) InitSchema() error {
	if err := s.Migrate(); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// --- Preference operations ---

// GetPreference returns the value stored for a user and preference id.
func (s *SQLiteStore) GetPreference(ctx context.Context, userID, prefID string) (string, bool, error) {
	if s.db == nil {
		return "", false, ErrNotOpen
	}

	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM preferences WHERE user_id = ? AND pref_id = ?`,
		userID, prefID,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get preference %s: %w", prefID, err)
	}
	return value, true, nil
}

// SavePreference inserts or replaces a value.
func (s *SQLiteStore) SavePreference(ctx context.Context, userID, prefID, value string) error {
	if s.db == nil {
		return ErrNotOpen
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO preferences (user_id, pref_id, value, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, pref_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		userID, prefID, value, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save preference %s: %w", prefID, err)
	}
	return nil
}

// DeletePreference removes a value. Deleting a missing value is not an error.
func (s *SQLiteStore) DeletePreference(ctx context.Context, userID, prefID string) error {
	if s.db == nil {
		return ErrNotOpen
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM preferences WHERE user_id = ? AND pref_id = ?`,
		userID, prefID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete preference %s: %w", prefID, err)
	}
	return nil
}

// ListPreferences returns all values of a user keyed by preference id.
func (s *SQLiteStore) ListPreferences(ctx context.Context, userID string) (map[string]string, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pref_id, value FROM preferences WHERE user_id = ? ORDER BY pref_id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list preferences: %w", err)
	}
	defer func() { _ = rows.Close() }()

	prefs := make(map[string]string)
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return nil, fmt.Errorf("failed to scan preference: %w", err)
		}
		prefs[id] = value
	}
	return prefs, rows.Err()
}

// --- User operations ---

// TouchUser records a session user, updating its last seen time.
func (s *SQLiteStore) TouchUser(ctx context.Context, userID string) error {
	if s.db == nil {
		return ErrNotOpen
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, created_at, last_seen) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_seen = excluded.last_seen`,
		userID, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to record user %s: %w", userID, err)
	}
	return nil
}

// CountUsers returns the number of known users.
func (s *SQLiteStore) CountUsers(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

// ResetUser deletes all preferences of a user.
func (s *SQLiteStore) ResetUser(ctx context.Context, userID string) (int64, error) {
	if s.db == nil {
		return 0, ErrNotOpen
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM preferences WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to reset user %s: %w", userID, err)
	}
	return res.RowsAffected()
}
