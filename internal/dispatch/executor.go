// Package dispatch performs agent directives against the chat platform.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"agentrelay/internal/domain"
)

// DefaultMaxMessageLength is Discord's per-message character limit.
const DefaultMaxMessageLength = 2000

// ErrNotOwnMessage is returned when asked to delete a message the relay did not write.
var ErrNotOwnMessage = errors.New("not the relay's own message")

// Executor implements domain.DirectiveExecutor.
type Executor struct {
	platform domain.ChatPlatform
	maxLen   int
	logger   *slog.Logger
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	Platform         domain.ChatPlatform
	MaxMessageLength int // default 2000
	Logger           *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = DefaultMaxMessageLength
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Executor{
		platform: cfg.Platform,
		maxLen:   cfg.MaxMessageLength,
		logger:   cfg.Logger,
	}
}

var _ domain.DirectiveExecutor = (*Executor)(nil)

// Flush posts buffered text and media as one logical message, split into
// chunks, with media attached to the first chunk and reactions applied to the
// last one.
func (e *Executor) Flush(ctx context.Context, channelID string, out domain.PendingOutput) error {
	text := strings.Join(out.TextLines, "\n")
	blank := strings.TrimSpace(text) == ""
	if blank && len(out.MediaFiles) == 0 {
		if len(out.Reactions) > 0 {
			e.logger.Debug("dropping reactions without a message", "reactions", len(out.Reactions))
		}
		return nil
	}

	if channelID == "" {
		if !blank {
			e.logger.Info("agent output (no output channel)", "text", text)
		}
		return nil
	}

	chunks := []string{""}
	if !blank {
		chunks = SplitMessage(text, e.maxLen)
	}

	var lastID string
	for i, chunk := range chunks {
		msg := domain.OutgoingMessage{Content: chunk}
		if i == 0 {
			msg.Files = out.MediaFiles
		}
		id, err := e.platform.SendMessage(ctx, channelID, msg)
		if err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		lastID = id
	}

	for _, emoji := range out.Reactions {
		if err := e.platform.AddReaction(ctx, channelID, lastID, emoji); err != nil {
			e.logger.Warn("failed to add reaction", "emoji", emoji, "message", lastID, "err", err)
		}
	}
	return nil
}

// React adds or removes the relay's reaction on a message in channelID.
func (e *Executor) React(ctx context.Context, channelID, messageID, emoji string, remove bool) error {
	var err error
	if remove {
		err = e.platform.RemoveOwnReaction(ctx, channelID, messageID, emoji)
	} else {
		err = e.platform.AddReaction(ctx, channelID, messageID, emoji)
	}
	if err != nil {
		return fmt.Errorf("reaction %s on %s: %w", emoji, messageID, err)
	}
	return nil
}

// Delete removes a message, refusing messages authored by anyone else.
func (e *Executor) Delete(ctx context.Context, channelID, messageID string) error {
	msg, err := e.platform.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", messageID, err)
	}
	if msg.AuthorID != e.platform.SelfID() {
		return fmt.Errorf("delete %s: %w", messageID, ErrNotOwnMessage)
	}
	if err := e.platform.DeleteMessage(ctx, channelID, messageID); err != nil {
		return fmt.Errorf("delete %s: %w", messageID, err)
	}
	return nil
}

// Exec fetches a message so it can be re-injected into the agent.
func (e *Executor) Exec(ctx context.Context, channelID, messageID string) (*domain.ExecResult, error) {
	msg, err := e.platform.FetchMessage(ctx, channelID, messageID)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", messageID, err)
	}
	return &domain.ExecResult{
		ID:          msg.ID,
		ChannelID:   channelID,
		Content:     msg.Content,
		Attachments: msg.AttachmentURLs(),
	}, nil
}

// History returns a transcript of up to q.Count messages, skipping the
// q.Offset most recent ones. Failures are returned as a single error line.
func (e *Executor) History(ctx context.Context, channelID string, q domain.HistoryQuery) string {
	targetID := channelID
	if q.ChannelID != "" {
		targetID = q.ChannelID
	}
	target, err := e.platform.Channel(ctx, targetID)
	if err != nil {
		e.logger.Error("history: channel lookup failed", "channel", targetID, "err", err)
		return historyError(err.Error())
	}
	if !target.IsText {
		return historyError(fmt.Sprintf("Channel <#%s> is not a text channel", targetID))
	}

	var before string
	for skipped := 0; skipped < q.Offset; {
		batch, err := e.platform.FetchMessages(ctx, target.ID, min(q.Offset-skipped, historySkipBatch), before)
		if err != nil {
			e.logger.Error("history: skip fetch failed", "channel", target.ID, "err", err)
			return historyError(err.Error())
		}
		if len(batch) == 0 {
			break
		}
		before = batch[len(batch)-1].ID
		skipped += len(batch)
	}

	var msgs []domain.ChatMessage
	for remaining := q.Count; remaining > 0; {
		batch, err := e.platform.FetchMessages(ctx, target.ID, min(remaining, historyFetchBatch), before)
		if err != nil {
			e.logger.Error("history: fetch failed", "channel", target.ID, "err", err)
			return historyError(err.Error())
		}
		if len(batch) == 0 {
			break
		}
		msgs = append(msgs, batch...)
		before = batch[len(batch)-1].ID
		remaining -= len(batch)
	}

	return FormatHistory(target.Name, q.Offset, msgs)
}

// Send posts message to channelID, chunked to the platform limit.
func (e *Executor) Send(ctx context.Context, channelID, message string) error {
	for _, chunk := range SplitMessage(message, e.maxLen) {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if _, err := e.platform.SendMessage(ctx, channelID, domain.OutgoingMessage{Content: chunk}); err != nil {
			return fmt.Errorf("send to %s: %w", channelID, err)
		}
	}
	return nil
}

// SendTo resolves channelRef (an ID or a channel name in the working guild)
// and posts message there.
func (e *Executor) SendTo(ctx context.Context, workingChannelID, channelRef, message string) error {
	target, err := e.platform.ResolveChannel(ctx, workingChannelID, channelRef)
	if err != nil {
		return fmt.Errorf("resolve channel %q: %w", channelRef, err)
	}
	return e.Send(ctx, target.ID, message)
}
