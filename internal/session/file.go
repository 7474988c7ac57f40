package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"agentrelay/internal/domain"
)

// FileStore keeps sessions in a JSON object file. Every update rewrites the
// whole file.
type FileStore struct {
	path   string
	logger *slog.Logger
	mu     sync.Mutex
	cache  map[string]string
}

var _ domain.SessionStore = (*FileStore)(nil)

// NewFileStore creates a store backed by path. The file is created on first write.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Load reads all sessions. A missing file is an empty store.
func (s *FileStore) Load(_ context.Context) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out, nil
}

func (s *FileStore) loadLocked() error {
	if s.cache != nil {
		return nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.cache = map[string]string{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read sessions %s: %w", s.path, err)
	}
	sessions := map[string]string{}
	if err := json.Unmarshal(data, &sessions); err != nil {
		return fmt.Errorf("parse sessions %s: %w", s.path, err)
	}
	s.cache = sessions
	return nil
}

func (s *FileStore) Save(_ context.Context, channelID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	s.cache[channelID] = sessionID
	return s.writeLocked()
}

func (s *FileStore) Delete(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(); err != nil {
		return err
	}
	delete(s.cache, channelID)
	return s.writeLocked()
}

func (s *FileStore) Close() error { return nil }

// writeLocked replaces the file atomically via a temp file and rename.
func (s *FileStore) writeLocked() error {
	data, err := json.MarshalIndent(s.cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".sessions-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write sessions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sessions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace sessions file: %w", err)
	}
	s.logger.Debug("sessions saved", "path", s.path, "count", len(s.cache))
	return nil
}
