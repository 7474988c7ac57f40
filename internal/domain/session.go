package domain

import "context"

// SessionStore persists the channel → agent session token mapping.
// Last writer wins per channel.
type SessionStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, channelID, sessionID string) error
	Delete(ctx context.Context, channelID string) error
	Close() error
}
