package domain

import "context"

// ChatPlatform is the set of chat primitives the relay needs (Discord in production).
// Message listings are returned newest first.
type ChatPlatform interface {
	// SelfID returns the user ID the relay is logged in as.
	SelfID() string
	Channel(ctx context.Context, channelID string) (*ChannelInfo, error)
	// ResolveChannel maps a channel reference (ID or name) to a channel, searching
	// the guild that owns nearChannelID when ref is a name.
	ResolveChannel(ctx context.Context, nearChannelID, ref string) (*ChannelInfo, error)
	SendMessage(ctx context.Context, channelID string, msg OutgoingMessage) (string, error)
	FetchMessage(ctx context.Context, channelID, messageID string) (*ChatMessage, error)
	FetchMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]ChatMessage, error)
	AddReaction(ctx context.Context, channelID, messageID, emoji string) error
	RemoveOwnReaction(ctx context.Context, channelID, messageID, emoji string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// ChannelInfo describes a chat channel.
type ChannelInfo struct {
	ID      string
	Name    string
	GuildID string
	IsText  bool
}
