package call

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrWong99/callagent/pkg/provider/llm"
	"github.com/MrWong99/callagent/pkg/store"
)

// Oracle generates the agent's next utterance from the conversation so far.
//
// history is the turn log as it stood before the call; instruction is what the
// reply must accomplish. Implementations wrap every failure in
// [ErrOracleUnavailable].
type Oracle interface {
	Generate(ctx context.Context, history []store.Turn, instruction string, maxTokens int) (string, error)
}

// DefaultTemperature is the sampling temperature used when none is configured.
const DefaultTemperature = 0.7

// LLMOracle adapts an [llm.Provider] to the [Oracle] interface.
type LLMOracle struct {
	provider     llm.Provider
	systemPrompt string
	temperature  float64
}

var _ Oracle = (*LLMOracle)(nil)

// NewLLMOracle returns an Oracle that prefixes every request with systemPrompt
// and samples at temperature.
func NewLLMOracle(p llm.Provider, systemPrompt string, temperature float64) *LLMOracle {
	return &LLMOracle{provider: p, systemPrompt: systemPrompt, temperature: temperature}
}

// Generate maps agent turns to the assistant role and counterpart turns to the
// user role, then appends instruction as the final user message.
func (o *LLMOracle) Generate(ctx context.Context, history []store.Turn, instruction string, maxTokens int) (string, error) {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleUser
		if t.Role == store.RoleAgent {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Content})
	}
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: instruction})

	resp, err := o.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: o.systemPrompt,
		Messages:     msgs,
		Temperature:  o.temperature,
		MaxTokens:    maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
	}
	var text string
	if resp != nil {
		text = strings.TrimSpace(resp.Content)
	}
	if text == "" {
		return "", fmt.Errorf("%w: %w", ErrOracleUnavailable, llm.ErrEmptyCompletion)
	}
	if resp.Truncated {
		slog.Debug("reply hit the token budget", "max_tokens", maxTokens)
	}
	return text, nil
}
