// Package session persists the channel → agent session token mapping.
package session

import (
	"fmt"
	"log/slog"

	"agentrelay/internal/domain"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open returns the store for backend ("file" or "sqlite") at path.
func Open(backend, path string, logger *slog.Logger) (domain.SessionStore, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(path, logger), nil
	case BackendSQLite:
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("unknown session backend %q", backend)
	}
}
