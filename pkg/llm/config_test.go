package llm

import (
	"context"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

func TestGetConfigFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("model", "llama-3.1-8b-instant")
	viper.Set("max_tokens", 512)
	viper.Set("openai.preset", "groq")

	config, err := GetConfigFromViper()
	require.NoError(t, err)

	assert.Equal(t, llmtypes.ProviderOpenAI, config.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", config.Model)
	assert.Equal(t, 512, config.MaxTokens)
	require.NotNil(t, config.OpenAI)
	assert.Equal(t, "groq", config.OpenAI.Preset)
	assert.Equal(t, llmtypes.DefaultRetryConfig, config.Retry)
}

func TestGetConfigFromViperKeepsRetry(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("provider", "anthropic")
	viper.Set("retry.attempts", 5)
	viper.Set("retry.backoff_type", "fixed")

	config, err := GetConfigFromViper()
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderAnthropic, config.Provider)
	assert.Equal(t, 5, config.Retry.Attempts)
	assert.Equal(t, "fixed", config.Retry.BackoffType)
}

func TestNewCompleterRejectsUnknownProvider(t *testing.T) {
	_, err := NewCompleter(context.Background(), llmtypes.Config{Provider: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported provider")
}

func TestNewCompleterOpenAI(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "key")
	completer, err := NewCompleter(context.Background(), llmtypes.Config{})
	require.NoError(t, err)
	assert.Equal(t, llmtypes.ProviderOpenAI, completer.Provider())
	assert.Equal(t, "llama-3.3-70b-versatile", completer.Model())
}
