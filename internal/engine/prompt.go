package engine

import "strings"

// PromptInput describes the event presented to the agent.
type PromptInput struct {
	ID          string
	Skill       string
	Content     string
	ChannelID   string
	Attachments []string
	Reactions   []string
}

// BuildMessagePrompt renders an event in the line format the agent expects:
//
//	id: <id>
//	content: [/<skill> ]<content>
//	channel: <channel id>
//	attachments:[ <path>...]
//	reactions:[ <emoji>...]
func BuildMessagePrompt(in PromptInput) string {
	content := in.Content
	if in.Skill != "" {
		content = "/" + in.Skill + " " + in.Content
	}
	lines := []string{
		"id: " + in.ID,
		"content: " + content,
		"channel: " + in.ChannelID,
		"attachments:" + spaceList(in.Attachments),
		"reactions:" + spaceList(in.Reactions),
	}
	return strings.Join(lines, "\n")
}

func spaceList(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return " " + strings.Join(items, " ")
}
