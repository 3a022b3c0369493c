package intent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlpilot/sqlpilot/pkg/llm/llmtest"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Intent
	}{
		{"exact sql", "SQL_QUERY", SQLQuery},
		{"lowercase with whitespace", "  sql_query\n", SQLQuery},
		{"spatial wins over sql", "SQL_SPATIAL", SQLSpatial},
		{"spatial mentioned after sql", "SQL_QUERY or maybe SQL_SPATIAL", SQLSpatial},
		{"casual", "casual_chat", CasualChat},
		{"general", "GENERAL_KNOWLEDGE.", GeneralKnowledge},
		{"sarcastic prefix", "Sarcastic", SarcasticResponse},
		{"sarcastic full", "SARCASTIC_RESPONSE", SarcasticResponse},
		{"sql beats casual", "CASUAL_CHAT SQL_QUERY", SQLQuery},
		{"unknown", "I think it is a question", Ambiguous},
		{"explicit ambiguous", "AMBIGUOUS", Ambiguous},
		{"empty", "", Ambiguous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Decode(tt.input))
		})
	}
}

func TestClassify(t *testing.T) {
	mem := memory.New("s1")
	mem.AddMessage(llmtypes.RoleUser, "how many customers?", nil)
	mem.AddMessage(llmtypes.RoleAssistant, "Generated SQL query", nil)
	mem.AddMessage(llmtypes.RoleUser, "and in Mumbai?", nil)

	completer := llmtest.New(llmtest.Text("SQL_QUERY", 42))
	classifier := NewClassifier(completer, nil, "retail bank", "A financial services database")

	got, usage := classifier.Classify(context.Background(), "and in Mumbai?", mem)
	assert.Equal(t, SQLQuery, got)
	assert.Equal(t, 42, usage.TotalTokens)

	prompts := completer.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0].System, "Intent Classification Engine for a retail bank")
	assert.Contains(t, prompts[0].System, "Conversation context: User: how many customers?")
	assert.Equal(t, "and in Mumbai?", prompts[0].User)
	assert.Len(t, prompts[0].History, 3)
}

func TestClassifyFailureIsAmbiguous(t *testing.T) {
	completer := llmtest.New(llmtest.Fail("rate limited"))
	classifier := NewClassifier(completer, nil, "", "")

	got, usage := classifier.Classify(context.Background(), "anything", memory.New("s1"))
	assert.Equal(t, Ambiguous, got)
	assert.True(t, usage.IsZero())
}

func TestClassifyHistoryIsBounded(t *testing.T) {
	mem := memory.New("s1")
	for i := 0; i < 8; i++ {
		mem.AddMessage(llmtypes.RoleUser, "q", nil)
	}
	completer := llmtest.New(llmtest.Text("CASUAL_CHAT", 5))

	got, _ := NewClassifier(completer, nil, "", "").Classify(context.Background(), "hi", mem)
	assert.Equal(t, CasualChat, got)
	assert.Len(t, completer.Prompts()[0].History, HistoryTurns)
}
