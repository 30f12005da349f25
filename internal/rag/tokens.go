package rag

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures context size with the tokenizer of the model
// that will consume it. When no encoding can be loaded it falls back to
// a rune/4 estimate, which overshoots slightly and keeps prompts safe.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func NewTokenCounter(model string) *TokenCounter {
	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, _ = tiktoken.GetEncoding("cl100k_base")
	}
	return &TokenCounter{encoding: encoding}
}

func (c *TokenCounter) Count(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	if c == nil || c.encoding == nil {
		count := len([]rune(trimmed)) / 4
		if count < 1 {
			count = 1
		}
		return count
	}
	return len(c.encoding.Encode(trimmed, nil, nil))
}
