package dispatch

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		maxLen int
		want   []string
	}{
		{"fits", "hello", 10, []string{"hello"}},
		{"empty", "", 10, []string{""}},
		{"newline preferred", "aaa\nbbbbb", 6, []string{"aaa", "bbbbb"}},
		{"hard split", "abcdefghij", 4, []string{"abcd", "efgh", "ij"}},
		{"newline at limit", "abcd\nefgh", 4, []string{"abcd", "efgh"}},
		{"only the first newline after a cut is dropped", "ab\n\ncd", 3, []string{"ab\n", "cd"}},
		{"multibyte counted as characters", "日本語テキスト", 3, []string{"日本語", "テキス", "ト"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.maxLen)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("SplitMessage(%q, %d) = %q, want %q", tt.text, tt.maxLen, got, tt.want)
			}
		})
	}
}

func TestSplitMessage_ChunksWithinLimit(t *testing.T) {
	text := strings.Repeat("line of text\n", 400)
	for _, chunk := range SplitMessage(text, 2000) {
		if n := len([]rune(chunk)); n > 2000 {
			t.Fatalf("chunk of %d characters exceeds limit", n)
		}
	}
}
