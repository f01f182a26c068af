// Package history builds the short recent-history window attached to a
// stream request, bounded by a token budget rather than a message count
// so long research answers don't blow up the request size.
package history

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/deepchat/internal/types"
)

// Window assembles token-budgeted history windows.
type Window struct {
	tokenizer *tiktoken.Tiktoken
	budget    int
	maxTurns  int
}

// New creates a history window builder. model selects the tokenizer
// (falls back to cl100k_base for unknown models); budget is the maximum
// token count for the window; maxTurns caps the number of messages
// regardless of budget.
func New(model string, budget, maxTurns int) (*Window, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	if budget <= 0 {
		budget = 4096
	}
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Window{tokenizer: enc, budget: budget, maxTurns: maxTurns}, nil
}

func (w *Window) countTokens(text string) int {
	return len(w.tokenizer.Encode(text, nil, nil))
}

// Build walks the transcript backward, keeping the most recent turns
// that fit the budget, and returns them in chronological order.
// Non-terminal messages are skipped: an in-flight assistant bubble is
// not history yet.
func (w *Window) Build(msgs []*types.Message) []types.Turn {
	var reversed []types.Turn
	used := 0

	for i := len(msgs) - 1; i >= 0 && len(reversed) < w.maxTurns; i-- {
		m := msgs[i]
		if !m.Status.Terminal() || m.Content == "" {
			continue
		}
		tokens := w.countTokens(m.Content)
		if used+tokens > w.budget {
			break
		}
		reversed = append(reversed, types.Turn{Role: m.Role, Content: m.Content})
		used += tokens
	}

	turns := make([]types.Turn, len(reversed))
	for i, t := range reversed {
		turns[len(reversed)-1-i] = t
	}
	return turns
}
