// Package discord connects the relay to Discord through discordgo. It turns
// gateway events into engine work and implements domain.ChatPlatform.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bwmarrin/discordgo"

	"agentrelay/internal/domain"
)

const clearReply = "Session cleared."

// Handler receives admitted chat events.
type Handler interface {
	EnqueueMessage(ev domain.MessageEvent) bool
	EnqueueReaction(ev domain.ReactionEvent) bool
	ResetSession(ctx context.Context, channelID string) error
}

// Config configures the Discord client.
type Config struct {
	Token   string
	GuildID string // optional: restrict events and name lookups to one guild
	Logger  *slog.Logger
}

// Client owns the discordgo session.
type Client struct {
	guildID string
	session *discordgo.Session
	logger  *slog.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

// New creates a client. It does not connect until Run.
func New(cfg Config) (*Client, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMessageReactions
	session.State.MaxMessageCount = 100

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		guildID: cfg.GuildID,
		session: session,
		logger:  logger,
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the gateway session is ready.
func (c *Client) Ready() <-chan struct{} { return c.ready }

// Run connects, routes events to h and blocks until ctx is cancelled.
func (c *Client) Run(ctx context.Context, h Handler) error {
	c.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		c.logger.Info("discord bot connected", "user", r.User.Username, "guilds", len(r.Guilds))
		c.registerCommands(s, r.User.ID)
		c.readyOnce.Do(func() { close(c.ready) })
	})
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessageCreate(ctx, h, m)
	})
	c.session.AddHandler(func(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
		c.handleReactionAdd(ctx, h, r)
	})
	c.session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		c.handleInteraction(ctx, h, i)
	})

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	<-ctx.Done()
	c.logger.Info("discord bot disconnecting")
	return c.session.Close()
}

func (c *Client) registerCommands(s *discordgo.Session, appID string) {
	cmd := &discordgo.ApplicationCommand{
		Name:        "clear",
		Description: "Reset the agent session for this channel",
	}
	if _, err := s.ApplicationCommandCreate(appID, c.guildID, cmd); err != nil {
		c.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		return
	}
	c.logger.Info("registered slash commands")
}

func (c *Client) handleMessageCreate(ctx context.Context, h Handler, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.SelfID() {
		return
	}
	if c.guildID != "" && m.GuildID != c.guildID {
		return
	}

	ev := domain.MessageEvent{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		ChannelName: c.channelName(ctx, m.ChannelID),
		AuthorID:    m.Author.ID,
		Content:     m.Content,
		Attachments: toAttachments(m.Attachments),
		Timestamp:   m.Timestamp,
	}
	if h.EnqueueMessage(ev) {
		c.logger.Info("message queued", "channel", ev.ChannelName, "author", m.Author.Username, "content_len", len(m.Content))
	}
}

func (c *Client) handleReactionAdd(ctx context.Context, h Handler, r *discordgo.MessageReactionAdd) {
	if r.UserID == c.SelfID() {
		return
	}
	if r.Member != nil && r.Member.User != nil && r.Member.User.Bot {
		return
	}
	if c.guildID != "" && r.GuildID != c.guildID {
		return
	}

	info, err := c.Channel(ctx, r.ChannelID)
	if err != nil {
		c.logger.Warn("failed to fetch reaction channel", "channel", r.ChannelID, "err", err)
		return
	}
	if !info.IsText {
		return
	}
	msg, err := c.FetchMessage(ctx, r.ChannelID, r.MessageID)
	if err != nil {
		c.logger.Warn("failed to fetch reacted message", "message", r.MessageID, "err", err)
		return
	}

	ev := domain.ReactionEvent{
		ChannelID:      r.ChannelID,
		ChannelName:    info.Name,
		UserID:         r.UserID,
		Emoji:          emojiName(r.Emoji),
		MessageID:      msg.ID,
		MessageContent: msg.Content,
	}
	if h.EnqueueReaction(ev) {
		c.logger.Info("reaction queued", "channel", info.Name, "emoji", ev.Emoji, "message", msg.ID)
	}
}

func (c *Client) handleInteraction(ctx context.Context, h Handler, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != "clear" {
		return
	}

	reply := clearReply
	if err := h.ResetSession(ctx, i.ChannelID); err != nil {
		c.logger.Error("failed to clear session", "channel", i.ChannelID, "err", err)
		reply = "Failed to clear session."
	}
	err := c.session.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: reply},
	}, discordgo.WithContext(ctx))
	if err != nil {
		c.logger.Warn("failed to answer interaction", "err", err)
	}
}

// channelName returns the cached channel name, or the ID when unknown.
func (c *Client) channelName(ctx context.Context, channelID string) string {
	if ch, err := c.session.State.Channel(channelID); err == nil {
		return ch.Name
	}
	if ch, err := c.session.Channel(channelID, discordgo.WithContext(ctx)); err == nil {
		return ch.Name
	}
	return channelID
}

// --- domain.ChatPlatform ---

// SelfID returns the bot user ID, or "" before the session is ready.
func (c *Client) SelfID() string {
	if c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}

func (c *Client) Channel(ctx context.Context, channelID string) (*domain.ChannelInfo, error) {
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", channelID, mapError(err))
		}
	}
	return toChannelInfo(ch), nil
}

// ResolveChannel accepts a channel ID or a channel name. Names are looked up
// in the guild of nearChannelID, the configured guild, or every joined guild.
func (c *Client) ResolveChannel(ctx context.Context, nearChannelID, ref string) (*domain.ChannelInfo, error) {
	if isSnowflake(ref) {
		return c.Channel(ctx, ref)
	}

	var guilds []string
	if nearChannelID != "" {
		if near, err := c.Channel(ctx, nearChannelID); err == nil && near.GuildID != "" {
			guilds = append(guilds, near.GuildID)
		}
	}
	if len(guilds) == 0 && c.guildID != "" {
		guilds = append(guilds, c.guildID)
	}
	if len(guilds) == 0 {
		for _, g := range c.session.State.Guilds {
			guilds = append(guilds, g.ID)
		}
	}

	for _, guildID := range guilds {
		channels, err := c.guildChannels(ctx, guildID)
		if err != nil {
			c.logger.Warn("failed to list guild channels", "guild", guildID, "err", err)
			continue
		}
		if ch := findChannel(channels, ref); ch != nil {
			return toChannelInfo(ch), nil
		}
	}
	return nil, fmt.Errorf("channel %q: %w", ref, domain.ErrNotFound)
}

func (c *Client) guildChannels(ctx context.Context, guildID string) ([]*discordgo.Channel, error) {
	if g, err := c.session.State.Guild(guildID); err == nil && len(g.Channels) > 0 {
		return g.Channels, nil
	}
	return c.session.GuildChannels(guildID, discordgo.WithContext(ctx))
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg domain.OutgoingMessage) (string, error) {
	send := &discordgo.MessageSend{Content: msg.Content}
	for _, path := range msg.Files {
		f, err := os.Open(path)
		if err != nil {
			closeFiles(send.Files)
			return "", fmt.Errorf("open media %s: %w", path, err)
		}
		send.Files = append(send.Files, &discordgo.File{Name: filepath.Base(path), Reader: f})
	}
	defer closeFiles(send.Files)

	sent, err := c.session.ChannelMessageSendComplex(channelID, send, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("send to %s: %w", channelID, mapError(err))
	}
	return sent.ID, nil
}

func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*domain.ChatMessage, error) {
	if m, err := c.session.State.Message(channelID, messageID); err == nil {
		msg := toChatMessage(m)
		return &msg, nil
	}
	m, err := c.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("message %s: %w", messageID, mapError(err))
	}
	msg := toChatMessage(m)
	return &msg, nil
}

func (c *Client) FetchMessages(ctx context.Context, channelID string, limit int, beforeID string) ([]domain.ChatMessage, error) {
	msgs, err := c.session.ChannelMessages(channelID, limit, beforeID, "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("messages in %s: %w", channelID, mapError(err))
	}
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toChatMessage(m))
	}
	return out, nil
}

func (c *Client) AddReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("react %s on %s: %w", emoji, messageID, mapError(err))
	}
	return nil
}

func (c *Client) RemoveOwnReaction(ctx context.Context, channelID, messageID, emoji string) error {
	if err := c.session.MessageReactionRemove(channelID, messageID, emoji, "@me", discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("unreact %s on %s: %w", emoji, messageID, mapError(err))
	}
	return nil
}

func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.session.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete %s: %w", messageID, mapError(err))
	}
	return nil
}

// --- conversions ---

func toChannelInfo(ch *discordgo.Channel) *domain.ChannelInfo {
	return &domain.ChannelInfo{ID: ch.ID, Name: ch.Name, GuildID: ch.GuildID, IsText: isTextChannel(ch.Type)}
}

func isTextChannel(t discordgo.ChannelType) bool {
	switch t {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews,
		discordgo.ChannelTypeGuildPublicThread, discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func findChannel(channels []*discordgo.Channel, name string) *discordgo.Channel {
	for _, ch := range channels {
		if ch.Name == name && isTextChannel(ch.Type) {
			return ch
		}
	}
	return nil
}

func toChatMessage(m *discordgo.Message) domain.ChatMessage {
	msg := domain.ChatMessage{
		ID:          m.ID,
		ChannelID:   m.ChannelID,
		Content:     m.Content,
		Timestamp:   m.Timestamp,
		Attachments: toAttachments(m.Attachments),
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
		msg.AuthorName = m.Author.Username
	}
	return msg
}

func toAttachments(in []*discordgo.MessageAttachment) []domain.Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Attachment, 0, len(in))
	for _, a := range in {
		out = append(out, domain.Attachment{Name: a.Filename, URL: a.URL})
	}
	return out
}

func emojiName(e discordgo.Emoji) string {
	if e.ID != "" {
		return e.APIName()
	}
	return e.Name
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// mapError turns Discord's not-found responses into domain.ErrNotFound.
func mapError(err error) error {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) {
		if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: %s", domain.ErrNotFound, strings.TrimSpace(restErr.Error()))
		}
		if restErr.Message != nil {
			switch restErr.Message.Code {
			case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
				return fmt.Errorf("%w: %s", domain.ErrNotFound, restErr.Message.Message)
			}
		}
	}
	return err
}

func closeFiles(files []*discordgo.File) {
	for _, f := range files {
		if c, ok := f.Reader.(*os.File); ok {
			c.Close()
		}
	}
}
