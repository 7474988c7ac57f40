package protocol

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/rivo/uniseg"
)

const (
	defaultHistoryCount = 10
	maxHistoryCount     = 100
)

var (
	channelMentionRe = regexp.MustCompile(`^<#(\d+)>$`)
	channelHashRe    = regexp.MustCompile(`^#(\S+)$`)
	offsetArgRe      = regexp.MustCompile(`^offset:(\d+)$`)
	digitsRe         = regexp.MustCompile(`^\d+$`)
)

// ParseChannelRef resolves `<#123>` to "123" and `#name` to "name". Anything
// else is returned unchanged.
func ParseChannelRef(ref string) string {
	if m := channelMentionRe.FindStringSubmatch(ref); m != nil {
		return m[1]
	}
	if m := channelHashRe.FindStringSubmatch(ref); m != nil {
		return m[1]
	}
	return ref
}

// ParseHistoryArgs parses the arguments of `!discord history`. Recognized
// tokens are a count (clamped to 100), `offset:N` and a `<#id>` channel
// mention; anything else is ignored.
func ParseHistoryArgs(args string) History {
	h := History{Count: defaultHistoryCount}
	for _, tok := range strings.Fields(args) {
		if m := offsetArgRe.FindStringSubmatch(tok); m != nil {
			h.Offset = atoiSaturating(m[1])
		} else if m := channelMentionRe.FindStringSubmatch(tok); m != nil {
			h.ChannelID = m[1]
		} else if digitsRe.MatchString(tok) {
			h.Count = min(atoiSaturating(tok), maxHistoryCount)
		}
	}
	return h
}

// atoiSaturating parses a digit string, saturating instead of failing on overflow.
func atoiSaturating(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// SplitEmojis splits s into grapheme clusters and drops blank ones, so flags,
// keycaps, skin-tone modifiers and ZWJ sequences stay whole.
func SplitEmojis(s string) []string {
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		cluster := gr.Str()
		if strings.TrimSpace(cluster) == "" {
			continue
		}
		out = append(out, cluster)
	}
	return out
}
