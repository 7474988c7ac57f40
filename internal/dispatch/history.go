package dispatch

import (
	"fmt"
	"strings"

	"agentrelay/internal/domain"
)

const (
	historyFetchBatch = 30
	historySkipBatch  = 100
	historyTimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// FormatHistory renders fetched messages as the transcript shown to the agent.
func FormatHistory(channelName string, offset int, msgs []domain.ChatMessage) string {
	lines := make([]string, 0, len(msgs)+2)
	lines = append(lines, fmt.Sprintf("--- history of #%s (%d messages, offset %d) ---", channelName, len(msgs), offset))
	for _, m := range msgs {
		var attachments string
		if urls := m.AttachmentURLs(); len(urls) > 0 {
			attachments = " [attachments: " + strings.Join(urls, ", ") + "]"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s (%s): %s%s",
			m.Timestamp.UTC().Format(historyTimeLayout), m.AuthorName, m.ID, m.Content, attachments))
	}
	lines = append(lines, "--- end history ---")
	return strings.Join(lines, "\n")
}

func historyError(reason string) string {
	return fmt.Sprintf("--- history error: %s ---", reason)
}
