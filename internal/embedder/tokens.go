package embedder

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

var (
	encoderOnce sync.Once
	encoder     *tiktoken.Tiktoken
)

func loadEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(defaultEncoding)
		if err == nil {
			encoder = enc
		}
	})
	return encoder
}

// CountTokens returns the number of billable tokens in text. When the
// tokenizer cannot be loaded it falls back to roughly four characters per
// token.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

func estimateTokens(text string) int {
	n := len(text) / 4
	if words := len(strings.Fields(text)); words > n {
		n = words
	}
	if n == 0 {
		n = 1
	}
	return n
}
