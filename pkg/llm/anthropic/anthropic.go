// Package anthropic implements the completion client for Anthropic's Messages API
package anthropic

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/llm/base"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

const (
	// DefaultModel is used when no model is configured
	DefaultModel = "claude-sonnet-4-20250514"
	// DefaultAPIKeyEnvVar holds the API key unless anthropic.api_key_env_var overrides it
	DefaultAPIKeyEnvVar = "ANTHROPIC_API_KEY"
)

// Client sends single-shot message requests
type Client struct {
	client anthropic.Client
	config llmtypes.Config
}

// New creates an Anthropic completion client
func New(config llmtypes.Config) (*Client, error) {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	apiKeyEnvVar := DefaultAPIKeyEnvVar
	if config.Anthropic != nil && config.Anthropic.APIKeyEnvVar != "" {
		apiKeyEnvVar = config.Anthropic.APIKeyEnvVar
	}
	apiKey := os.Getenv(apiKeyEnvVar)
	if apiKey == "" {
		return nil, errors.Errorf("%s environment variable is required", apiKeyEnvVar)
	}

	// retries are handled by base.Retry, so the SDK's own loop is disabled
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if config.Anthropic != nil && config.Anthropic.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.Anthropic.BaseURL))
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// Provider implements llmtypes.Completer
func (c *Client) Provider() string { return llmtypes.ProviderAnthropic }

// Model implements llmtypes.Completer
func (c *Client) Model() string { return c.config.Model }

// Complete implements llmtypes.Completer
func (c *Client) Complete(ctx context.Context, prompt llmtypes.Prompt) (llmtypes.Completion, error) {
	return base.TraceCompletion(ctx, c.Provider(), c.config.Model, func(ctx context.Context) (llmtypes.Completion, error) {
		params := anthropic.MessageNewParams{
			Model:       anthropic.Model(c.config.Model),
			MaxTokens:   int64(c.config.MaxTokens),
			Messages:    toMessages(prompt),
			Temperature: anthropic.Float(float64(c.config.Temperature)),
		}
		if prompt.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: prompt.System}}
		}

		var response *anthropic.Message
		err := base.Retry(ctx, c.Provider(), c.config.Retry, isRetryableError, func() error {
			var apiErr error
			response, apiErr = c.client.Messages.New(ctx, params)
			return apiErr
		})
		if err != nil {
			return llmtypes.Completion{}, errors.Wrap(err, "error sending message to Anthropic")
		}

		var text strings.Builder
		for _, block := range response.Content {
			if block.Type == "text" {
				text.WriteString(block.Text)
			}
		}

		return llmtypes.Completion{
			Text:  strings.TrimSpace(text.String()),
			Usage: llmtypes.NewTokenUsage(int(response.Usage.InputTokens), int(response.Usage.OutputTokens), 0),
		}, nil
	})
}

func toMessages(prompt llmtypes.Prompt) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(prompt.History)+1)
	for _, turn := range prompt.History {
		if turn.Role == llmtypes.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Content)))
	}
	return append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(prompt.User)))
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return err != nil
}
