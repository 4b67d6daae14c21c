package agent

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/xseries/mailclerk/internal/types"
)

// Budget clamps conversation history to the model's context window.
type Budget struct {
	tokenizer *tiktoken.Tiktoken
	maxTokens int
	reserve   int
}

// NewBudget creates a token budget for the given model. maxTokens is
// the model's context window; reserve is held back for the response.
func NewBudget(model string, maxTokens, reserve int) (*Budget, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Budget{
		tokenizer: enc,
		maxTokens: maxTokens,
		reserve:   reserve,
	}, nil
}

// countTokens returns the token count for a string.
func (b *Budget) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Clamp returns the longest suffix of history that fits the budget
// left after the system prompt, preserving chronological order. The
// newest messages win; at least the final message is always kept.
func (b *Budget) Clamp(systemPrompt string, history []types.Message) []types.Message {
	if len(history) == 0 {
		return history
	}

	inputBudget := b.maxTokens - b.reserve - b.countTokens(systemPrompt)
	// 70% for history, the rest is safety margin for tool schemas and
	// message framing overhead.
	historyBudget := int(float64(inputBudget) * 0.7)

	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		tokens := b.countTokens(history[i].Content)
		if used+tokens > historyBudget && start < len(history) {
			break
		}
		used += tokens
		start = i
	}
	return history[start:]
}
