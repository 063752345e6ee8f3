package llm

import (
	"errors"
	"strings"
)

// ErrEmptyCompletion is returned by providers when the backend answered
// without any usable text.
var ErrEmptyCompletion = errors.New("llm: empty completion")

// Conversation returns the messages to send to a chat backend: the system
// prompt first (when set), then the history with blank entries dropped and
// adjacent messages of the same role joined by a newline. Backends that
// insist on strict user/assistant alternation accept the result as is.
func (r CompletionRequest) Conversation() []Message {
	out := make([]Message, 0, len(r.Messages)+1)
	if s := strings.TrimSpace(r.SystemPrompt); s != "" {
		out = append(out, Message{Role: RoleSystem, Content: s})
	}
	for _, m := range r.Messages {
		text := strings.TrimSpace(m.Content)
		if text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n" + text
			continue
		}
		out = append(out, Message{Role: m.Role, Content: text})
	}
	return out
}

// TokenBudget returns MaxTokens clamped to the model's output limit. Zero
// means the caller did not ask for a limit.
func (r CompletionRequest) TokenBudget(caps ModelCapabilities) int {
	if r.MaxTokens <= 0 {
		return 0
	}
	if caps.MaxOutputTokens > 0 && r.MaxTokens > caps.MaxOutputTokens {
		return caps.MaxOutputTokens
	}
	return r.MaxTokens
}

// ── Model limits ─────────────────────────────────────────────────────────────

// DefaultCapabilities applies to models missing from the lookup table.
var DefaultCapabilities = ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}

// knownModels is matched in order; the first entry whose prefix the
// lower-cased model name starts with wins.
var knownModels = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{"claude-3-opus", ModelCapabilities{200_000, 4_096}},
	{"claude-3-haiku", ModelCapabilities{200_000, 4_096}},
	{"claude", ModelCapabilities{200_000, 8_192}},
	{"gpt-4o", ModelCapabilities{128_000, 16_384}},
	{"gpt-4-turbo", ModelCapabilities{128_000, 4_096}},
	{"gpt-4", ModelCapabilities{8_192, 4_096}},
	{"gpt-3.5-turbo", ModelCapabilities{16_385, 4_096}},
	{"gemini-1.5-pro", ModelCapabilities{2_097_152, 8_192}},
	{"gemini", ModelCapabilities{1_048_576, 8_192}},
	{"deepseek", ModelCapabilities{64_000, 8_192}},
	{"mistral-large", ModelCapabilities{128_000, 4_096}},
	{"llama3", ModelCapabilities{8_192, 2_048}},
}

// LookupCapabilities returns the limits of model by name prefix. A vendor
// path such as "openai/gpt-4o" is matched on its last element.
func LookupCapabilities(model string) ModelCapabilities {
	name := strings.ToLower(model)
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	for _, m := range knownModels {
		if strings.HasPrefix(name, m.prefix) {
			return m.caps
		}
	}
	return DefaultCapabilities
}
