package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

func TestComplete(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Hey! What would you like to know?"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 9}
		}`))
	}))
	defer server.Close()

	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	client, err := New(llmtypes.Config{
		Anthropic: &llmtypes.AnthropicConfig{BaseURL: server.URL},
		Retry:     llmtypes.RetryConfig{Attempts: 1},
	})
	require.NoError(t, err)

	completion, err := client.Complete(context.Background(), llmtypes.Prompt{
		System:  "You are a friendly AI assistant.",
		History: []llmtypes.Turn{{Role: llmtypes.RoleAssistant, Content: "hello"}},
		User:    "Hi there",
	})
	require.NoError(t, err)

	assert.Equal(t, "Hey! What would you like to know?", completion.Text)
	assert.Equal(t, llmtypes.TokenUsage{PromptTokens: 20, CompletionTokens: 9, TotalTokens: 29}, completion.Usage)

	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, messages, 2)
	assert.NotNil(t, body["system"])
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := New(llmtypes.Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANTHROPIC_API_KEY")
}
