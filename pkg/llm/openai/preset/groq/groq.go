// Package groq provides the preset for Groq's OpenAI-compatible endpoint
package groq

// BaseURL is the API endpoint for Groq models
const BaseURL = "https://api.groq.com/openai/v1"

// APIKeyEnvVar is the environment variable name for the Groq API key
const APIKeyEnvVar = "GROQ_API_KEY"

// DefaultModel is used when no model is configured
const DefaultModel = "llama-3.3-70b-versatile"

// Models lists the chat models that follow SQL-generation instructions well enough to be useful
var Models = []string{
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"meta-llama/llama-4-maverick-17b-128e-instruct",
	"meta-llama/llama-4-scout-17b-16e-instruct",
	"moonshotai/kimi-k2-instruct",
	"qwen/qwen3-32b",
}
