package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/bowerhall/kindred/internal/logger"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding loads cl100k_base once. It can fail offline, in which case
// counting falls back to a character estimate.
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			logger.Warn("tokenizer unavailable, estimating tokens", "error", err)
			return
		}
		enc = e
	})
	return enc
}

// CountTokens approximates how many tokens text occupies in a prompt.
func CountTokens(text string) int {
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// TruncateTokens cuts text down to at most max tokens. The second result
// reports whether anything was removed.
func TruncateTokens(text string, max int) (string, bool) {
	if max <= 0 {
		return text, false
	}

	if e := encoding(); e != nil {
		tokens := e.Encode(text, nil, nil)
		if len(tokens) <= max {
			return text, false
		}
		return e.Decode(tokens[:max]), true
	}

	limit := max * 4
	if len(text) <= limit {
		return text, false
	}
	runes := []rune(text)
	if len(runes) <= limit {
		return text, false
	}
	return string(runes[:limit]), true
}
