package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/chatngt/chatngt/internal/llm"
)

// SQLiteStore keeps threads in a SQLite database so they survive
// restarts. Each thread is one row holding its messages as JSON.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
// A ttl of zero keeps threads forever.
func NewSQLiteStore(dbPath string, ttl time.Duration) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, ttl: ttl, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id         TEXT PRIMARY KEY,
		messages   TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_threads_expires ON threads(expires_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get implements Store. Expired rows are treated as absent.
func (s *SQLiteStore) Get(ctx context.Context, threadID string) ([]llm.Message, bool, error) {
	var (
		raw       string
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT messages, expires_at FROM threads WHERE id = ?`, threadID,
	).Scan(&raw, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	if expiresAt != 0 && s.now().UnixNano() >= expiresAt {
		return nil, false, nil
	}

	var msgs []llm.Message
	if err := json.Unmarshal([]byte(raw), &msgs); err != nil {
		return nil, false, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return msgs, true, nil
}

// Set implements Store.
func (s *SQLiteStore) Set(ctx context.Context, threadID string, msgs []llm.Message) error {
	raw, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", threadID, err)
	}

	now := s.now()
	var expiresAt int64
	if s.ttl > 0 {
		expiresAt = now.Add(s.ttl).UnixNano()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, messages, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			messages   = excluded.messages,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
		threadID, string(raw), now.UnixNano(), now.UnixNano(), expiresAt,
	)
	if err != nil {
		return fmt.Errorf("save thread %s: %w", threadID, err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, err)
	}
	return nil
}

// CleanupExpired deletes expired rows and reports how many went.
func (s *SQLiteStore) CleanupExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM threads WHERE expires_at != 0 AND expires_at <= ?`,
		s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired threads: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup expired threads: %w", err)
	}
	return int(n), nil
}
