// Package llm creates completion clients for the configured provider.
package llm

import (
	"context"

	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/llm/anthropic"
	"github.com/sqlpilot/sqlpilot/pkg/llm/google"
	"github.com/sqlpilot/sqlpilot/pkg/llm/openai"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// NewCompleter returns the completion client for config.Provider
func NewCompleter(ctx context.Context, config llmtypes.Config) (llmtypes.Completer, error) {
	var (
		completer llmtypes.Completer
		err       error
	)
	switch config.Provider {
	case llmtypes.ProviderOpenAI, "":
		completer, err = asCompleter(openai.New(config))
	case llmtypes.ProviderAnthropic:
		completer, err = asCompleter(anthropic.New(config))
	case llmtypes.ProviderGoogle:
		completer, err = asCompleter(google.New(ctx, config))
	default:
		return nil, errors.Errorf("unsupported provider '%s', valid providers are: openai, anthropic, google", config.Provider)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create %s completer", config.Provider)
	}
	return completer, nil
}

// asCompleter drops typed-nil clients so callers never see a non-nil
// interface wrapping a nil pointer.
func asCompleter[T llmtypes.Completer](client T, err error) (llmtypes.Completer, error) {
	if err != nil {
		return nil, err
	}
	return client, nil
}
