// Package tokens estimates token counts for turns where the model
// backend reports no usage metadata. Settlement meters credits by
// reported tokens, so the estimate is the billing fallback, not an
// observability nicety.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/agentforge/engine/internal/domain"
)

// Counter counts tokens with tiktoken's cl100k_base encoding, falling
// back to a character heuristic when the codec is unavailable.
type Counter struct {
	once  sync.Once
	codec tokenizer.Codec
}

// NewCounter creates a new counter. The codec is loaded lazily on
// first use.
func NewCounter() *Counter {
	return &Counter{}
}

// Count returns the token count for text.
func (c *Counter) Count(text string) int {
	c.once.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			c.codec = codec
		}
	})

	if c.codec != nil {
		ids, _, err := c.codec.Encode(text)
		if err == nil {
			return len(ids)
		}
	}

	// Rough heuristic: ~4 characters per token.
	return (len(text) + 3) / 4
}

// EstimateUsage approximates a usage report for one completion round:
// the system prompt and message history count as prompt tokens, the
// reply's content as completion tokens.
func (c *Counter) EstimateUsage(systemPrompt string, messages []domain.Message, reply *domain.Message) domain.Usage {
	prompt := c.Count(systemPrompt)
	for _, m := range messages {
		prompt += c.Count(m.Content)
	}

	completion := 0
	if reply != nil {
		completion = c.Count(reply.Content)
	}

	return domain.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}
