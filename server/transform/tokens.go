package transform

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter defines the interface for token counting
type TokenCounter interface {
	Count(text string) int
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (t tiktokenCounter) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

// EstimateCounter approximates tokens as four runes each.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewTokenCounter loads the cl100k_base encoding. When the encoding cannot
// be loaded the estimate is used instead.
func NewTokenCounter(logger *zap.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken encoding unavailable, estimating tokens", zap.Error(err))
		}
		return EstimateCounter{}
	}
	return tiktokenCounter{enc: enc}
}

// trimContext keeps the newest messages that fit in budget tokens. messages
// is ordered oldest first and so is the result.
func trimContext(messages []string, budget int, counter TokenCounter) []string {
	if budget <= 0 {
		return nil
	}
	used := 0
	start := len(messages)
	for i := len(messages) - 1; i >= 0; i-- {
		n := counter.Count(messages[i])
		if used+n > budget {
			break
		}
		used += n
		start = i
	}
	return messages[start:]
}
