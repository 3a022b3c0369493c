// Package executor runs generated statements against the connected database,
// asking the model to repair a failing statement between attempts.
package executor

import (
	"context"
	"fmt"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/sanitize"
	"github.com/sqlpilot/sqlpilot/pkg/sqldb"
	"github.com/sqlpilot/sqlpilot/pkg/telemetry"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// DefaultMaxAttempts bounds the attempts made for one statement
const DefaultMaxAttempts = 5

const maxErrorExcerpt = 100

// ErrReadOnlyViolation is returned for statements that would write data
var ErrReadOnlyViolation = sanitize.ErrReadOnlyViolation

// Runner executes a single statement
type Runner interface {
	Run(ctx context.Context, sql string) (*sqldb.Rows, error)
}

// Repairer rewrites a failed statement given the error and the schema
type Repairer interface {
	Repair(ctx context.Context, failedSQL, errMessage, schemaText string) (string, llmtypes.TokenUsage, error)
}

// SchemaSource renders schema text for the repair prompt. A nil or empty
// table list asks for the whole allow-listed schema.
type SchemaSource interface {
	FilteredSchema(ctx context.Context, requested []string) string
}

// Config holds the executor settings read from the `executor` section
type Config struct {
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" yaml:"max_attempts"`
}

// Executor runs statements with bounded model repair
type Executor struct {
	runner       Runner
	repairer     Repairer
	schema       SchemaSource
	maxAttempts  int
	lowerColumns bool
}

// Option configures an Executor
type Option func(*Executor)

// WithMaxAttempts overrides DefaultMaxAttempts. Values below one are ignored.
func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithSchema sets where repair schema text comes from. Without it failing
// statements are retried unchanged.
func WithSchema(source SchemaSource) Option {
	return func(e *Executor) {
		e.schema = source
	}
}

// WithColumnLowering lowercases qualified column references before running,
// which PostgreSQL targets need for unquoted identifiers
func WithColumnLowering(enabled bool) Option {
	return func(e *Executor) {
		e.lowerColumns = enabled
	}
}

// New creates an executor. repairer may be nil, in which case statements are
// retried unchanged.
func New(runner Runner, repairer Repairer, opts ...Option) *Executor {
	e := &Executor{
		runner:      runner,
		repairer:    repairer,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxAttempts returns the attempt bound
func (e *Executor) MaxAttempts() int {
	return e.maxAttempts
}

// Request is one statement to execute. Tables narrows the schema used for
// repair.
type Request struct {
	SQL    string
	Tables []string
}

// Execute runs req.SQL, repairing and retrying on failure. A caller
// statement that is not read-only fails immediately with
// ErrReadOnlyViolation; a repaired one that is not counts as a failed attempt.
func (e *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if sanitize.IsRefusal(req.SQL) {
		return nil, &sanitize.ReadOnlyError{Reason: sanitize.ReasonRefusal}
	}

	log := logger.G(ctx).WithField("tables", req.Tables)

	var (
		attempt    int
		current    = req.SQL
		rows       *sqldb.Rows
		lastErr    error
		violation  error
		retryUsage []AttemptUsage
		schemaText *string
	)

	err := retry.Do(
		func() error {
			attempt++
			prepared := sanitize.PrepareForExecution(current, e.lowerColumns)
			if err := sanitize.AssertReadOnly(prepared); err != nil {
				if attempt == 1 {
					violation = err
					return retry.Unrecoverable(err)
				}
				// a repair that writes is a failed attempt and is never run
				lastErr = err
				return err
			}

			return telemetry.WithSpan(ctx, "executor.attempt", func(ctx context.Context) error {
				result, err := e.runner.Run(ctx, prepared)
				if err != nil {
					lastErr = err
					return err
				}
				rows = result
				return nil
			}, attribute.Int("attempt", attempt))
		},
		retry.Attempts(uint(e.maxAttempts)),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			if violation != nil {
				return
			}
			log.WithError(err).WithField("attempt", n+1).Warn("statement failed")
			if int(n)+1 >= e.maxAttempts {
				return
			}

			if e.repairer == nil || e.schema == nil {
				return
			}
			if schemaText == nil {
				text := e.schema.FilteredSchema(ctx, req.Tables)
				schemaText = &text
			}
			if *schemaText == "" {
				log.Debug("no schema available for repair")
				return
			}

			message := err.Error()
			repaired, usage, repairErr := e.repairer.Repair(ctx, current, message, *schemaText)
			if repairErr != nil {
				log.WithError(repairErr).Warn("statement repair failed, retrying unchanged")
				return
			}
			retryUsage = append(retryUsage, AttemptUsage{
				Attempt: int(n) + 1,
				Error:   excerpt(message, maxErrorExcerpt),
				Tokens:  usage,
			})
			current = repaired
			telemetry.AddEvent(ctx, "executor.repair",
				append(telemetry.UsageAttributes(usage), attribute.Int("attempt", int(n)+1))...)
			log.WithField("attempt", n+2).Debug("retrying with repaired statement")
		}),
	)

	if violation != nil {
		return nil, violation
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || lastErr == nil {
			return nil, errors.Wrap(err, "statement execution aborted")
		}
		return nil, errors.Errorf("SQL execution failed after %d attempts: %s", attempt, lastErr)
	}

	result := newResult(req.SQL, rows)
	if attempt > 1 {
		result.RetryCount = attempt - 1
		result.FinalQuery = current
		result.RetryUsage = retryUsage
	}
	log.WithField("attempt", attempt).WithField("rows", result.RowCount).Info("statement executed")
	return result, nil
}

func excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// AttemptUsage records the repair made after a failed attempt
type AttemptUsage struct {
	Attempt int                 `json:"attempt"`
	Error   string              `json:"error"`
	Tokens  llmtypes.TokenUsage `json:"tokens"`
}

func (a AttemptUsage) String() string {
	return fmt.Sprintf("attempt %d: %s (%d tokens)", a.Attempt, a.Error, a.Tokens.TotalTokens)
}
