// Package openai implements the completion client for OpenAI-compatible
// chat completion endpoints: OpenAI itself, Groq and xAI.
package openai

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/sqlpilot/sqlpilot/pkg/llm/base"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// Client sends single-shot chat completion requests
type Client struct {
	client *openai.Client
	config llmtypes.Config
}

// New creates a client from the configuration. The API key is read from
// the environment variable selected by the preset or api_key_env_var.
func New(config llmtypes.Config) (*Client, error) {
	if err := validateConfiguration(config); err != nil {
		return nil, err
	}
	if config.Model == "" {
		config.Model = GetDefaultModel(config)
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	apiKeyEnvVar := GetAPIKeyEnvVar(config)
	apiKey := os.Getenv(apiKeyEnvVar)
	if apiKey == "" {
		return nil, errors.Errorf("%s environment variable is required", apiKeyEnvVar)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	clientConfig.BaseURL = GetBaseURL(config)

	logger.G(context.Background()).
		WithField("base_url", clientConfig.BaseURL).
		WithField("model", config.Model).
		Debug("created openai-compatible completion client")

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Provider implements llmtypes.Completer
func (c *Client) Provider() string { return llmtypes.ProviderOpenAI }

// Model implements llmtypes.Completer
func (c *Client) Model() string { return c.config.Model }

// Complete implements llmtypes.Completer
func (c *Client) Complete(ctx context.Context, prompt llmtypes.Prompt) (llmtypes.Completion, error) {
	return base.TraceCompletion(ctx, c.Provider(), c.config.Model, func(ctx context.Context) (llmtypes.Completion, error) {
		request := openai.ChatCompletionRequest{
			Model:       c.config.Model,
			Messages:    toMessages(prompt),
			MaxTokens:   c.config.MaxTokens,
			Temperature: c.config.Temperature,
		}

		var response openai.ChatCompletionResponse
		err := base.Retry(ctx, c.Provider(), c.config.Retry, isRetryableError, func() error {
			var apiErr error
			response, apiErr = c.client.CreateChatCompletion(ctx, request)
			return apiErr
		})
		if err != nil {
			return llmtypes.Completion{}, errors.Wrap(err, "chat completion failed")
		}
		if len(response.Choices) == 0 {
			return llmtypes.Completion{}, errors.New("chat completion returned no choices")
		}

		return llmtypes.Completion{
			Text: strings.TrimSpace(response.Choices[0].Message.Content),
			Usage: llmtypes.NewTokenUsage(
				response.Usage.PromptTokens,
				response.Usage.CompletionTokens,
				response.Usage.TotalTokens,
			),
		}, nil
	})
}

func toMessages(prompt llmtypes.Prompt) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(prompt.History)+2)
	if prompt.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: prompt.System,
		})
	}
	for _, turn := range prompt.History {
		role := openai.ChatMessageRoleUser
		if turn.Role == llmtypes.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}
	return append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt.User,
	})
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 0 || reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}

	return false
}
