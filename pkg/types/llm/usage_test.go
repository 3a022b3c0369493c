package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTokenUsage(t *testing.T) {
	assert.Equal(t, TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, NewTokenUsage(10, 5, 0))
	assert.Equal(t, TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 20}, NewTokenUsage(10, 5, 20))
}

func TestTokenUsageAdd(t *testing.T) {
	a := TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}
	b := TokenUsage{PromptTokens: 50, CompletionTokens: 5, TotalTokens: 55}

	sum := a.Add(b)
	assert.Equal(t, 150, sum.PromptTokens)
	assert.Equal(t, 25, sum.CompletionTokens)
	assert.Equal(t, 175, sum.TotalTokens)

	// operands are not mutated
	assert.Equal(t, 120, a.TotalTokens)
	assert.True(t, TokenUsage{}.IsZero())
	assert.False(t, sum.IsZero())
}
