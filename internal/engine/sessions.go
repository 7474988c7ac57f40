package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"agentrelay/internal/domain"
)

// sessionTable caches channel → session token and writes every change
// through to the store. Each channel has a generation that clear bumps, so a
// turn started before a reset cannot write its token back afterwards.
type sessionTable struct {
	store  domain.SessionStore
	logger *slog.Logger

	// writeMu orders store writes with the table changes they mirror.
	writeMu sync.Mutex

	mu     sync.RWMutex
	tokens map[string]string
	gens   map[string]uint64
}

func newSessionTable(store domain.SessionStore, logger *slog.Logger) *sessionTable {
	return &sessionTable{
		store:  store,
		logger: logger,
		tokens: make(map[string]string),
		gens:   make(map[string]uint64),
	}
}

func (t *sessionTable) load(ctx context.Context) error {
	tokens, err := t.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}
	t.mu.Lock()
	t.tokens = make(map[string]string, len(tokens))
	for ch, sid := range tokens {
		t.tokens[ch] = sid
	}
	t.mu.Unlock()
	t.logger.Info("sessions loaded", "count", len(tokens))
	return nil
}

func (t *sessionTable) get(channelID string) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tokens[channelID]
}

// generation returns the channel's current reset generation.
func (t *sessionTable) generation(channelID string) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.gens[channelID]
}

// update records sessionID for the channel and persists it when it changed.
// Tokens from a turn that started in an earlier generation are dropped.
// A failed write is logged; the in-memory token is still used.
func (t *sessionTable) update(ctx context.Context, channelID, sessionID string, gen uint64) {
	if sessionID == "" {
		return
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	if t.gens[channelID] != gen {
		t.mu.Unlock()
		t.logger.Debug("dropping session from before reset", "channel", channelID, "session", sessionID)
		return
	}
	if t.tokens[channelID] == sessionID {
		t.mu.Unlock()
		return
	}
	t.tokens[channelID] = sessionID
	t.mu.Unlock()

	if err := t.store.Save(ctx, channelID, sessionID); err != nil {
		t.logger.Warn("failed to persist session", "channel", channelID, "err", err)
		return
	}
	t.logger.Debug("session updated", "channel", channelID, "session", sessionID)
}

func (t *sessionTable) clear(ctx context.Context, channelID string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	delete(t.tokens, channelID)
	t.gens[channelID]++
	t.mu.Unlock()

	if err := t.store.Delete(ctx, channelID); err != nil {
		return fmt.Errorf("clear session %s: %w", channelID, err)
	}
	t.logger.Info("session cleared", "channel", channelID)
	return nil
}
