package llm

// TokenUsage represents token counts reported by a single completion call,
// or the sum of several calls made while answering one question.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewTokenUsage builds a usage record from prompt and completion counts.
// TotalTokens is derived when the provider does not report it.
func NewTokenUsage(prompt, completion, total int) TokenUsage {
	if total == 0 {
		total = prompt + completion
	}
	return TokenUsage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

// Add returns the element-wise sum of u and other
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// IsZero reports whether no tokens were recorded
func (u TokenUsage) IsZero() bool {
	return u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0
}
