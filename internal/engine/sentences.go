package engine

import (
	"regexp"
	"strings"
)

var sentenceEnd = regexp.MustCompile(`[.!?。！？；;]+["')\]]*(\s+|$)`)

// SplitSentences cuts text after terminal punctuation. Text without any
// punctuation is returned as a single sentence; blank pieces are dropped.
func SplitSentences(text string) []string {
	var out []string
	start := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[start:loc[1]]); s != "" {
			out = append(out, s)
		}
		start = loc[1]
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}
