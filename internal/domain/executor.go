package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a message or channel does not exist.
var ErrNotFound = errors.New("not found")

// PendingOutput is buffered agent output waiting to be posted as one message.
type PendingOutput struct {
	TextLines  []string
	MediaFiles []string
	Reactions  []string
}

// Empty reports whether nothing has been buffered.
func (p PendingOutput) Empty() bool {
	return len(p.TextLines) == 0 && len(p.MediaFiles) == 0 && len(p.Reactions) == 0
}

// HistoryQuery selects a window of channel history. An empty ChannelID means
// the working channel.
type HistoryQuery struct {
	Count     int
	ChannelID string
	Offset    int
}

// ExecResult is a fetched message to be re-injected into the agent.
type ExecResult struct {
	ID          string
	ChannelID   string
	Content     string
	Attachments []string
}

// DirectiveExecutor performs directive side effects against the chat platform.
// Errors are reported to the caller, which logs them and keeps going.
type DirectiveExecutor interface {
	// Flush posts buffered output to channelID. An empty channelID only logs it.
	Flush(ctx context.Context, channelID string, out PendingOutput) error
	React(ctx context.Context, channelID, messageID, emoji string, remove bool) error
	Delete(ctx context.Context, channelID, messageID string) error
	// Exec fetches a message; a missing message yields an error wrapping ErrNotFound.
	Exec(ctx context.Context, channelID, messageID string) (*ExecResult, error)
	// History returns a formatted transcript, or a one-line error string.
	History(ctx context.Context, channelID string, q HistoryQuery) string
	Send(ctx context.Context, channelID, message string) error
	SendTo(ctx context.Context, workingChannelID, channelRef, message string) error
}
