// Package xai provides the preset for xAI's OpenAI-compatible endpoint
package xai

// BaseURL is the API endpoint for xAI Grok models
const BaseURL = "https://api.x.ai/v1"

// APIKeyEnvVar is the environment variable name for the xAI API key
const APIKeyEnvVar = "XAI_API_KEY"

// DefaultModel is used when no model is configured
const DefaultModel = "grok-3-mini"

// Models lists the Grok chat models
var Models = []string{
	"grok-3",
	"grok-3-mini",
	"grok-4",
}
