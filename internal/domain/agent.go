package domain

import "context"

// AgentRequest starts or resumes one agent turn.
type AgentRequest struct {
	Prompt       string
	SessionID    string // resume token; empty starts a new session
	SystemPrompt string // only sent for new sessions
	WorkDir      string
}

// AgentEventType classifies an event streamed from the agent runtime.
type AgentEventType string

const (
	AgentSystem    AgentEventType = "system"
	AgentAssistant AgentEventType = "assistant"
	AgentResult    AgentEventType = "result"
)

// AgentEvent is one message of agent output. Assistant events carry the text of
// one logical turn; result events mark completion of the run.
type AgentEvent struct {
	Type      AgentEventType
	SessionID string
	Text      string
	Subtype   string // result subtype, e.g. "success" or "error_max_turns"
	IsError   bool
}

// AgentRunner runs agent turns. Stream sends events to out and closes it before
// returning; the returned error reports a failed run.
type AgentRunner interface {
	Stream(ctx context.Context, req AgentRequest, out chan<- AgentEvent) error
}
