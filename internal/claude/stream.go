package claude

import (
	"encoding/json"
	"strings"

	"agentrelay/internal/domain"
)

// streamLine is the subset of a stream-json line the relay reads.
type streamLine struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Message   *struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseLine decodes one stream-json line. It reports false for blank lines,
// non-JSON output and event types the relay does not consume.
func ParseLine(line []byte) (domain.AgentEvent, bool) {
	if len(strings.TrimSpace(string(line))) == 0 {
		return domain.AgentEvent{}, false
	}
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return domain.AgentEvent{}, false
	}

	switch sl.Type {
	case "system":
		return domain.AgentEvent{Type: domain.AgentSystem, SessionID: sl.SessionID, Subtype: sl.Subtype}, true
	case "assistant":
		ev := domain.AgentEvent{Type: domain.AgentAssistant, SessionID: sl.SessionID}
		if sl.Message != nil {
			var parts []string
			for _, block := range sl.Message.Content {
				if block.Type == "text" {
					parts = append(parts, block.Text)
				}
			}
			ev.Text = strings.Join(parts, "\n")
		}
		return ev, true
	case "result":
		return domain.AgentEvent{
			Type:      domain.AgentResult,
			SessionID: sl.SessionID,
			Subtype:   sl.Subtype,
			IsError:   sl.IsError || (sl.Subtype != "" && sl.Subtype != "success"),
		}, true
	}
	return domain.AgentEvent{}, false
}
