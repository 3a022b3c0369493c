package llm

import "context"

// Role identifies the author of a conversational turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a prior message replayed to the model as conversation history
type Turn struct {
	Role    Role
	Content string
}

// Prompt is a single-shot completion request: system instructions,
// optional prior turns, and the final user turn.
type Prompt struct {
	System  string
	History []Turn
	User    string
}

// Completion is the text returned by the model along with the tokens it cost
type Completion struct {
	Text  string
	Usage TokenUsage
}

// Completer is an opaque text-completion service.
// Implementations must be safe for concurrent use.
type Completer interface {
	// Complete sends the prompt and blocks until the full response is available
	Complete(ctx context.Context, prompt Prompt) (Completion, error)
	// Provider returns the provider name, e.g. "openai" or "anthropic"
	Provider() string
	// Model returns the model the completer talks to
	Model() string
}
