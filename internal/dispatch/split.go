package dispatch

// SplitMessage splits text into chunks of at most maxLen characters, cutting
// at the last newline that fits when there is one. The newline at a cut is
// dropped. Text that already fits is returned as a single chunk, even when empty.
func SplitMessage(text string, maxLen int) []string {
	runes := []rune(text)
	if maxLen <= 0 || len(runes) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= maxLen {
			chunks = append(chunks, string(runes))
			break
		}
		cut := lastNewline(runes, maxLen)
		if cut <= 0 {
			cut = maxLen
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
		if len(runes) > 0 && runes[0] == '\n' {
			runes = runes[1:]
		}
	}
	return chunks
}

// lastNewline returns the index of the last '\n' at or before limit, or -1.
func lastNewline(runes []rune, limit int) int {
	if limit >= len(runes) {
		limit = len(runes) - 1
	}
	for i := limit; i >= 0; i-- {
		if runes[i] == '\n' {
			return i
		}
	}
	return -1
}
