package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"agentrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps sessions in a SQLite table.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.SessionStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel_id, session_id FROM channel_sessions`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make(map[string]string)
	for rows.Next() {
		var channelID, sessionID string
		if err := rows.Scan(&channelID, &sessionID); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions[channelID] = sessionID
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, channelID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channel_sessions (channel_id, session_id, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(channel_id) DO UPDATE SET session_id = excluded.session_id, updated_at = excluded.updated_at`,
		channelID, sessionID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", channelID, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, channelID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM channel_sessions WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete session %s: %w", channelID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
