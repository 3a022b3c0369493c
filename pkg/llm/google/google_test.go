package google

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

func TestDetectBackend(t *testing.T) {
	t.Setenv("GOOGLE_GENAI_USE_VERTEXAI", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "")
	t.Setenv("GOOGLE_APPLICATION_CREDENTIALS", "")

	tests := []struct {
		name     string
		config   llmtypes.Config
		expected string
	}{
		{"explicit backend", llmtypes.Config{Google: &llmtypes.GoogleConfig{Backend: "VertexAI"}}, "vertexai"},
		{"api key", llmtypes.Config{Google: &llmtypes.GoogleConfig{APIKey: "k", Project: "p"}}, "gemini"},
		{"project only", llmtypes.Config{Google: &llmtypes.GoogleConfig{Project: "p"}}, "vertexai"},
		{"nothing configured", llmtypes.Config{}, "gemini"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectBackend(tt.config))
		})
	}
}

func TestDetectBackendFromEnv(t *testing.T) {
	t.Setenv("GOOGLE_GENAI_USE_VERTEXAI", "1")
	assert.Equal(t, "vertexai", detectBackend(llmtypes.Config{}))
}

func TestToContents(t *testing.T) {
	contents := toContents(llmtypes.Prompt{
		System: "ignored here",
		History: []llmtypes.Turn{
			{Role: llmtypes.RoleUser, Content: "q1"},
			{Role: llmtypes.RoleAssistant, Content: "a1"},
		},
		User: "q2",
	})
	require.Len(t, contents, 3)
	assert.Equal(t, string(genai.RoleUser), string(contents[0].Role))
	assert.Equal(t, string(genai.RoleModel), string(contents[1].Role))
	assert.Equal(t, "q2", contents[2].Parts[0].Text)
}
