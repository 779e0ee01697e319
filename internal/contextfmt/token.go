package contextfmt

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/siftd/sift/internal/log"
)

const tokenEncoding = "cl100k_base"

// TokenCounter counts tokens with a tiktoken encoding, loaded lazily on
// first use. If the encoding cannot be loaded it degrades permanently to a
// character-based estimate.
type TokenCounter struct {
	once   sync.Once
	enc    *tiktoken.Tiktoken
	logger log.Logger
}

// NewTokenCounter creates a counter. The tokenizer is not loaded until the
// first Count call.
func NewTokenCounter(logger log.Logger) *TokenCounter {
	return &TokenCounter{logger: logger}
}

// Count returns the token count of text, or a character-based estimate if
// the tokenizer is unavailable.
func (tc *TokenCounter) Count(text string) int {
	tc.once.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err != nil {
			tc.logger.Warn("tokenizer unavailable, using character estimate", "encoding", tokenEncoding, "error", err)
			return
		}
		tc.enc = enc
	})
	if tc.enc == nil {
		return estimateTokens(text)
	}
	return len(tc.enc.Encode(text, nil, nil))
}

// estimateTokens approximates tokens as one per four characters, rounded up.
func estimateTokens(text string) int {
	n := len([]rune(text))
	return (n + 3) / 4
}
