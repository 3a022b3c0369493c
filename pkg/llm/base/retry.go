package base

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/telemetry"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// Retry runs fn with the configured retry policy. Errors for which
// isRetryable returns false stop the loop immediately.
func Retry(ctx context.Context, provider string, cfg llmtypes.RetryConfig, isRetryable func(error) bool, fn func() error) error {
	if cfg.Attempts <= 0 {
		cfg = llmtypes.DefaultRetryConfig
	}

	var delayType retry.DelayTypeFunc
	switch cfg.BackoffType {
	case "fixed":
		delayType = retry.FixedDelay
	case "exponential":
		fallthrough
	default:
		delayType = retry.BackOffDelay
	}

	var originalErrors []error
	err := retry.Do(
		func() error {
			apiErr := fn()
			if apiErr != nil {
				originalErrors = append(originalErrors, apiErr)
			}
			return apiErr
		},
		retry.RetryIf(isRetryable),
		retry.Attempts(uint(cfg.Attempts)),
		retry.Delay(time.Duration(cfg.InitialDelay)*time.Millisecond),
		retry.MaxDelay(time.Duration(cfg.MaxDelay)*time.Millisecond),
		retry.DelayType(delayType),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			logger.G(ctx).
				WithError(err).
				WithField("provider", provider).
				WithField("attempt", n+1).
				WithField("max_attempts", cfg.Attempts).
				Warn("retrying completion call")
		}),
	)
	if err != nil && len(originalErrors) > 1 {
		return errors.Wrapf(err, "%s completion failed after %d attempts", provider, len(originalErrors))
	}
	return err
}

// TraceCompletion wraps a completion call in a span annotated with the
// provider, model and resulting token usage.
func TraceCompletion(ctx context.Context, provider, model string, fn func(context.Context) (llmtypes.Completion, error)) (llmtypes.Completion, error) {
	var completion llmtypes.Completion
	err := telemetry.WithSpan(ctx, "llm.complete", func(ctx context.Context) error {
		var err error
		completion, err = fn(ctx)
		if err != nil {
			return err
		}
		telemetry.SetAttributes(ctx, telemetry.UsageAttributes(completion.Usage)...)
		return nil
	},
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
	return completion, err
}
