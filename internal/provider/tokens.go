package provider

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// CountTokens estimates the token count of text with the cl100k_base
// encoding. Used when an upstream response omits usage figures, so the
// health monitor's tokens/sec metric stays populated for every provider.
func CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	encOnce.Do(func() {
		enc, _ = tiktoken.GetEncoding("cl100k_base")
	})
	if enc == nil {
		// Rough heuristic if the encoding data is unavailable.
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
