package openai

import (
	"os"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/llm/openai/preset/groq"
	openaipreset "github.com/sqlpilot/sqlpilot/pkg/llm/openai/preset/openai"
	"github.com/sqlpilot/sqlpilot/pkg/llm/openai/preset/xai"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// DefaultPreset is used when the openai section does not name one
const DefaultPreset = "groq"

type preset struct {
	baseURL      string
	apiKeyEnvVar string
	defaultModel string
}

var presets = map[string]preset{
	"groq":   {baseURL: groq.BaseURL, apiKeyEnvVar: groq.APIKeyEnvVar, defaultModel: groq.DefaultModel},
	"openai": {baseURL: openaipreset.BaseURL, apiKeyEnvVar: openaipreset.APIKeyEnvVar, defaultModel: openaipreset.DefaultModel},
	"xai":    {baseURL: xai.BaseURL, apiKeyEnvVar: xai.APIKeyEnvVar, defaultModel: xai.DefaultModel},
}

func presetName(config llmtypes.Config) string {
	if config.OpenAI != nil && config.OpenAI.Preset != "" {
		return config.OpenAI.Preset
	}
	return DefaultPreset
}

// GetAPIKeyEnvVar returns the API key environment variable name.
// Priority: custom api_key_env_var > preset default.
func GetAPIKeyEnvVar(config llmtypes.Config) string {
	if config.OpenAI != nil && config.OpenAI.APIKeyEnvVar != "" {
		return config.OpenAI.APIKeyEnvVar
	}
	return presets[presetName(config)].apiKeyEnvVar
}

// GetBaseURL returns the endpoint to talk to.
// Priority: OPENAI_API_BASE > custom base_url > preset default.
func GetBaseURL(config llmtypes.Config) string {
	if baseURL := os.Getenv("OPENAI_API_BASE"); baseURL != "" {
		return baseURL
	}
	if config.OpenAI != nil && config.OpenAI.BaseURL != "" {
		return config.OpenAI.BaseURL
	}
	return presets[presetName(config)].baseURL
}

// GetDefaultModel returns the preset's default model
func GetDefaultModel(config llmtypes.Config) string {
	return presets[presetName(config)].defaultModel
}

func validateConfiguration(config llmtypes.Config) error {
	name := presetName(config)
	if _, ok := presets[name]; !ok {
		return errors.Errorf("invalid preset '%s', valid presets are: groq, openai, xai", name)
	}
	return nil
}
