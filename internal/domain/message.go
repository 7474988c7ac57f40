package domain

import "time"

// ChatMessage is a message fetched from the chat platform.
type ChatMessage struct {
	ID          string
	ChannelID   string
	AuthorID    string
	AuthorName  string
	Content     string
	Timestamp   time.Time
	Attachments []Attachment
}

// AttachmentURLs returns the URLs of all attachments in order.
func (m ChatMessage) AttachmentURLs() []string {
	urls := make([]string, 0, len(m.Attachments))
	for _, a := range m.Attachments {
		urls = append(urls, a.URL)
	}
	return urls
}

type Attachment struct {
	Name string
	URL  string
}

// OutgoingMessage is a message to post. Files are local paths uploaded with the message.
type OutgoingMessage struct {
	Content string
	Files   []string
}

// MessageEvent is an inbound chat message.
type MessageEvent struct {
	ID          string
	ChannelID   string
	ChannelName string
	AuthorID    string
	Content     string
	Attachments []Attachment
	Timestamp   time.Time
}

// ReactionEvent is a reaction added to a message by a user.
type ReactionEvent struct {
	ChannelID      string
	ChannelName    string
	UserID         string
	Emoji          string
	MessageID      string
	MessageContent string
}
