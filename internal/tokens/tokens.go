// Package tokens provides token counting for context budgets, backed by
// tiktoken-go's cl100k_base encoding with a character heuristic fallback when
// the encoding cannot be initialized (e.g. offline test environments).
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func enc() *tiktoken.Tiktoken {
	once.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = e
		}
	})
	return encoding
}

// Count returns the token count of text, or a heuristic estimate if the
// encoding is unavailable.
func Count(text string) int {
	if e := enc(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return Estimate(text)
}

// Estimate returns max(runes/4, words) without touching the encoder.
func Estimate(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	n := runes / 4
	if n < words {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}

// Truncate trims text to approximately maxTokens, appending an ellipsis when
// anything was cut. maxTokens <= 0 returns text unchanged.
func Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	if e := enc(); e != nil {
		toks := e.Encode(text, nil, nil)
		if len(toks) <= maxTokens {
			return text
		}
		return e.Decode(toks[:maxTokens]) + "..."
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
