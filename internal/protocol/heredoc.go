package protocol

import "strings"

type heredocKind int

const (
	heredocSend heredocKind = iota
	heredocSendTo
)

// heredoc accumulates the body of a `<<WORD` block until a line equal to WORD.
type heredoc struct {
	delimiter string
	lines     []string
	kind      heredocKind
	channel   string
}

func (h *heredoc) active() bool { return h.delimiter != "" }

func (h *heredoc) start(delimiter string, kind heredocKind, channel string) {
	h.delimiter = delimiter
	h.kind = kind
	h.channel = channel
	h.lines = nil
}

func (h *heredoc) add(line string) { h.lines = append(h.lines, line) }

// end closes the block and returns the directive it produced.
func (h *heredoc) end() Directive {
	msg := strings.Join(h.lines, "\n")
	var d Directive = Send{Message: msg}
	if h.kind == heredocSendTo && h.channel != "" {
		d = SendTo{Channel: h.channel, Message: msg}
	}
	*h = heredoc{}
	return d
}
