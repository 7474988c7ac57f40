package protocol

import (
	"regexp"
	"strings"
)

var (
	nopRe       = regexp.MustCompile(`^!discord\s+nop$`)
	reactionRe  = regexp.MustCompile(`^!discord\s+reaction\s+(\d+)\s+(-?)(.+)$`)
	historyRe   = regexp.MustCompile(`^!discord\s+history(.*)$`)
	deleteRe    = regexp.MustCompile(`^!discord\s+delete\s+(?:https://(?:(?:ptb|canary)\.)?discord(?:app)?\.com/channels/(?:\d+|@me)/\d+/(\d+)|(\d+))$`)
	execRe      = regexp.MustCompile(`^!discord\s+exec\s+(\d+)$`)
	sendToRe    = regexp.MustCompile(`^!discord\s+sendto\s+(\S+)\s+(.+)$`)
	sendRe      = regexp.MustCompile(`^!discord\s+send\s+(.+)$`)
	mediaRe     = regexp.MustCompile(`^media:\s+(.+)$`)
	reactionsRe = regexp.MustCompile(`^reactions:\s+(.+)$`)
	heredocRe   = regexp.MustCompile(`^<<(\w+)$`)
)

// Parse converts one turn of agent output into directives, in the order their
// lines appear. A heredoc must open and close within text; an unterminated
// block produces nothing.
func Parse(text string) []Directive {
	var (
		out []Directive
		doc heredoc
	)
	for _, line := range strings.Split(text, "\n") {
		if doc.active() {
			if line == doc.delimiter {
				out = append(out, doc.end())
			} else {
				doc.add(line)
			}
			continue
		}
		if d := parseLine(line, &doc); d != nil {
			out = append(out, d)
		}
	}
	return out
}

// parseLine classifies a single line. It returns nil when the line opened a
// heredoc block.
func parseLine(line string, doc *heredoc) Directive {
	if nopRe.MatchString(line) {
		return Nop{}
	}
	if m := reactionRe.FindStringSubmatch(line); m != nil {
		return Reaction{
			MessageID: m[1],
			Emoji:     strings.TrimSpace(m[3]),
			Remove:    m[2] == "-",
		}
	}
	if m := historyRe.FindStringSubmatch(line); m != nil {
		return ParseHistoryArgs(m[1])
	}
	if m := deleteRe.FindStringSubmatch(line); m != nil {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		return Delete{MessageID: id}
	}
	if m := execRe.FindStringSubmatch(line); m != nil {
		return Exec{MessageID: m[1]}
	}
	if m := sendToRe.FindStringSubmatch(line); m != nil {
		channel := ParseChannelRef(m[1])
		if h := heredocRe.FindStringSubmatch(m[2]); h != nil {
			doc.start(h[1], heredocSendTo, channel)
			return nil
		}
		return SendTo{Channel: channel, Message: m[2]}
	}
	if m := sendRe.FindStringSubmatch(line); m != nil {
		if h := heredocRe.FindStringSubmatch(m[1]); h != nil {
			doc.start(h[1], heredocSend, "")
			return nil
		}
		return Send{Message: m[1]}
	}
	if m := mediaRe.FindStringSubmatch(line); m != nil {
		return Media{FilePath: strings.TrimSpace(m[1])}
	}
	if m := reactionsRe.FindStringSubmatch(line); m != nil {
		return Reactions{Emojis: SplitEmojis(m[1])}
	}
	return Text{Content: line}
}
