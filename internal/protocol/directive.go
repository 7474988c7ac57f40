// Package protocol decodes the line-oriented command language the agent uses
// to request chat actions.
package protocol

// Directive is one instruction decoded from agent output. The set of
// implementations is closed; switch on the concrete type to dispatch.
type Directive interface {
	Kind() string
	directive()
}

// Text is a plain output line.
type Text struct{ Content string }

// Media attaches a local file to the next posted message.
type Media struct{ FilePath string }

// Reactions are applied to the next posted message.
type Reactions struct{ Emojis []string }

// Reaction adds or removes an emoji on an existing message.
type Reaction struct {
	MessageID string
	Emoji     string
	Remove    bool
}

// History asks for a transcript of recent messages. An empty ChannelID means
// the working channel.
type History struct {
	Count     int
	ChannelID string
	Offset    int
}

// Delete removes one of the relay's own messages.
type Delete struct{ MessageID string }

// Exec re-injects an existing message into the agent.
type Exec struct{ MessageID string }

// Send posts a message to the working channel.
type Send struct{ Message string }

// SendTo posts a message to another channel.
type SendTo struct {
	Channel string
	Message string
}

// Nop does nothing. It lets the agent answer without output.
type Nop struct{}

func (Text) Kind() string      { return "text" }
func (Media) Kind() string     { return "media" }
func (Reactions) Kind() string { return "reactions" }
func (Reaction) Kind() string  { return "reaction" }
func (History) Kind() string   { return "history" }
func (Delete) Kind() string    { return "delete" }
func (Exec) Kind() string      { return "exec" }
func (Send) Kind() string      { return "send" }
func (SendTo) Kind() string    { return "sendto" }
func (Nop) Kind() string       { return "nop" }

func (Text) directive()      {}
func (Media) directive()     {}
func (Reactions) directive() {}
func (Reaction) directive()  {}
func (History) directive()   {}
func (Delete) directive()    {}
func (Exec) directive()      {}
func (Send) directive()      {}
func (SendTo) directive()    {}
func (Nop) directive()       {}

// IsFeedback reports whether d produces output that must be fed back to the
// agent as a new turn. Such a directive ends dispatch of the current turn.
func IsFeedback(d Directive) bool {
	switch d.(type) {
	case History, Exec:
		return true
	}
	return false
}
