// Package openai provides the preset for the OpenAI API
package openai

// BaseURL is the API endpoint for OpenAI models
const BaseURL = "https://api.openai.com/v1"

// APIKeyEnvVar is the environment variable name for the OpenAI API key
const APIKeyEnvVar = "OPENAI_API_KEY"

// DefaultModel is used when no model is configured
const DefaultModel = "gpt-4.1-mini"

// Models lists the chat models known to work with the SQL prompts
var Models = []string{
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
	"gpt-4o",
	"gpt-4o-mini",
}
