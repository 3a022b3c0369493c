package llm

// Provider names accepted in the `provider` configuration key
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
)

// Config holds the configuration for the completion client
type Config struct {
	Provider    string  `mapstructure:"provider" json:"provider" yaml:"provider"`
	Model       string  `mapstructure:"model" json:"model" yaml:"model"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens" yaml:"max_tokens"`
	Temperature float32 `mapstructure:"temperature" json:"temperature" yaml:"temperature"`

	OpenAI    *OpenAIConfig    `mapstructure:"openai" json:"openai,omitempty" yaml:"openai,omitempty"`
	Anthropic *AnthropicConfig `mapstructure:"anthropic" json:"anthropic,omitempty" yaml:"anthropic,omitempty"`
	Google    *GoogleConfig    `mapstructure:"google" json:"google,omitempty" yaml:"google,omitempty"`

	Retry RetryConfig `mapstructure:"retry" json:"retry" yaml:"retry"`
}

// OpenAIConfig configures OpenAI-compatible endpoints (OpenAI, Groq, xAI)
type OpenAIConfig struct {
	// Preset selects a known endpoint: "groq", "openai" or "xai"
	Preset       string `mapstructure:"preset" json:"preset,omitempty" yaml:"preset,omitempty"`
	BaseURL      string `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
	APIKeyEnvVar string `mapstructure:"api_key_env_var" json:"api_key_env_var,omitempty" yaml:"api_key_env_var,omitempty"`
}

// AnthropicConfig configures the Anthropic client
type AnthropicConfig struct {
	APIKeyEnvVar string `mapstructure:"api_key_env_var" json:"api_key_env_var,omitempty" yaml:"api_key_env_var,omitempty"`
	BaseURL      string `mapstructure:"base_url" json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// GoogleConfig configures the Google GenAI client
type GoogleConfig struct {
	Backend  string `mapstructure:"backend" json:"backend,omitempty" yaml:"backend,omitempty"` // "gemini" or "vertexai"
	APIKey   string `mapstructure:"api_key" json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Project  string `mapstructure:"project" json:"project,omitempty" yaml:"project,omitempty"`
	Location string `mapstructure:"location" json:"location,omitempty" yaml:"location,omitempty"`
}

// RetryConfig holds the retry configuration for transport-level API failures
type RetryConfig struct {
	Attempts     int    `mapstructure:"attempts" json:"attempts" yaml:"attempts"`
	InitialDelay int    `mapstructure:"initial_delay" json:"initial_delay" yaml:"initial_delay"` // milliseconds
	MaxDelay     int    `mapstructure:"max_delay" json:"max_delay" yaml:"max_delay"`             // milliseconds
	BackoffType  string `mapstructure:"backoff_type" json:"backoff_type" yaml:"backoff_type"`    // "fixed" or "exponential"
}

// DefaultRetryConfig is applied when no retry section is configured
var DefaultRetryConfig = RetryConfig{
	Attempts:     3,
	InitialDelay: 1000,
	MaxDelay:     10000,
	BackoffType:  "exponential",
}
