// Package google implements the completion client for Google GenAI, using
// either the Gemini API or Vertex AI backend.
package google

import (
	"context"
	"os"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"github.com/sqlpilot/sqlpilot/pkg/llm/base"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gemini-2.5-flash"

// Client sends single-shot generate-content requests
type Client struct {
	client *genai.Client
	config llmtypes.Config
}

// New creates a Google GenAI completion client
func New(ctx context.Context, config llmtypes.Config) (*Client, error) {
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	clientConfig := &genai.ClientConfig{}
	switch detectBackend(config) {
	case "vertexai":
		clientConfig.Backend = genai.BackendVertexAI
		if config.Google != nil {
			clientConfig.Project = config.Google.Project
			clientConfig.Location = config.Google.Location
		}
	default:
		clientConfig.Backend = genai.BackendGeminiAPI
		if config.Google != nil {
			clientConfig.APIKey = config.Google.APIKey
		}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google GenAI client")
	}

	logger.G(ctx).WithField("model", config.Model).Debug("created google completion client")
	return &Client{client: client, config: config}, nil
}

// Provider implements llmtypes.Completer
func (c *Client) Provider() string { return llmtypes.ProviderGoogle }

// Model implements llmtypes.Completer
func (c *Client) Model() string { return c.config.Model }

// Complete implements llmtypes.Completer
func (c *Client) Complete(ctx context.Context, prompt llmtypes.Prompt) (llmtypes.Completion, error) {
	return base.TraceCompletion(ctx, c.Provider(), c.config.Model, func(ctx context.Context) (llmtypes.Completion, error) {
		generateConfig := &genai.GenerateContentConfig{
			Temperature:     genai.Ptr(c.config.Temperature),
			MaxOutputTokens: int32(c.config.MaxTokens),
		}
		if prompt.System != "" {
			generateConfig.SystemInstruction = genai.NewContentFromText(prompt.System, genai.RoleUser)
		}

		var response *genai.GenerateContentResponse
		err := base.Retry(ctx, c.Provider(), c.config.Retry, isRetryableError, func() error {
			var apiErr error
			response, apiErr = c.client.Models.GenerateContent(ctx, c.config.Model, toContents(prompt), generateConfig)
			return apiErr
		})
		if err != nil {
			return llmtypes.Completion{}, errors.Wrap(err, "generate content failed")
		}

		completion := llmtypes.Completion{Text: strings.TrimSpace(response.Text())}
		if usage := response.UsageMetadata; usage != nil {
			completion.Usage = llmtypes.NewTokenUsage(
				int(usage.PromptTokenCount),
				int(usage.CandidatesTokenCount),
				int(usage.TotalTokenCount),
			)
		}
		return completion, nil
	})
}

func toContents(prompt llmtypes.Prompt) []*genai.Content {
	contents := make([]*genai.Content, 0, len(prompt.History)+1)
	for _, turn := range prompt.History {
		if turn.Role == llmtypes.RoleAssistant {
			contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleModel))
			continue
		}
		contents = append(contents, genai.NewContentFromText(turn.Content, genai.RoleUser))
	}
	return append(contents, genai.NewContentFromText(prompt.User, genai.RoleUser))
}

func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return err != nil
}

// detectBackend picks vertexai or gemini. Explicit configuration wins, then
// GOOGLE_GENAI_USE_VERTEXAI, then whichever credentials are present.
func detectBackend(config llmtypes.Config) string {
	if config.Google != nil && config.Google.Backend != "" {
		return strings.ToLower(config.Google.Backend)
	}

	if envBackend := os.Getenv("GOOGLE_GENAI_USE_VERTEXAI"); envBackend != "" {
		if strings.EqualFold(envBackend, "true") || envBackend == "1" {
			return "vertexai"
		}
		return "gemini"
	}

	if config.Google != nil && config.Google.APIKey != "" {
		return "gemini"
	}
	if config.Google != nil && (config.Google.Project != "" || config.Google.Location != "") {
		return "vertexai"
	}
	if os.Getenv("GOOGLE_CLOUD_PROJECT") != "" || os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != "" {
		return "vertexai"
	}
	return "gemini"
}
