// Package intent classifies a user question into one of the routes the
// query engine knows how to answer.
package intent

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	"github.com/sqlpilot/sqlpilot/pkg/telemetry"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// Intent is the route chosen for a question
type Intent string

const (
	SQLQuery          Intent = "sql_query"
	SQLSpatial        Intent = "sql_spatial"
	CasualChat        Intent = "casual_chat"
	GeneralKnowledge  Intent = "general_knowledge"
	SarcasticResponse Intent = "sarcastic_response"
	Ambiguous         Intent = "ambiguous"
)

// HistoryTurns is how many stored turns accompany the classification prompt
const HistoryTurns = 4

// decodeOrder is checked in sequence; SQL_SPATIAL must precede SQL_QUERY
// because both contain "SQL".
var decodeOrder = []struct {
	token  string
	intent Intent
}{
	{"SQL_SPATIAL", SQLSpatial},
	{"SQL_QUERY", SQLQuery},
	{"CASUAL_CHAT", CasualChat},
	{"GENERAL_KNOWLEDGE", GeneralKnowledge},
	{"SARCASTIC", SarcasticResponse},
}

// Decode maps raw model output to an Intent. Anything unrecognised is Ambiguous.
func Decode(text string) Intent {
	normalized := strings.ToUpper(strings.TrimSpace(text))
	for _, candidate := range decodeOrder {
		if strings.Contains(normalized, candidate.token) {
			return candidate.intent
		}
	}
	return Ambiguous
}

// String implements fmt.Stringer
func (i Intent) String() string {
	return string(i)
}

// IsSQL reports whether the intent produces a SQL statement
func (i Intent) IsSQL() bool {
	return i == SQLQuery || i == SQLSpatial
}

// Conversation is the slice of memory the classifier reads
type Conversation interface {
	ContextSummary() string
	RecentTurns(n int) []llmtypes.Turn
}

// Classifier asks the model which route a question belongs to
type Classifier struct {
	completer         llmtypes.Completer
	renderer          *prompts.Renderer
	dbDescription     string
	domainDescription string
}

// NewClassifier creates a classifier. domainDescription is the rendered
// database/table summary included in the prompt.
func NewClassifier(completer llmtypes.Completer, renderer *prompts.Renderer, dbDescription, domainDescription string) *Classifier {
	if renderer == nil {
		renderer = prompts.Default()
	}
	return &Classifier{
		completer:         completer,
		renderer:          renderer,
		dbDescription:     dbDescription,
		domainDescription: domainDescription,
	}
}

// Classify returns the intent for question. Failures never propagate: a
// prompt or model error yields Ambiguous with zero usage.
func (c *Classifier) Classify(ctx context.Context, question string, conv Conversation) (Intent, llmtypes.TokenUsage) {
	log := logger.G(ctx)

	result := Ambiguous
	var usage llmtypes.TokenUsage
	err := telemetry.WithSpan(ctx, "intent.classify", func(ctx context.Context) error {
		pctx := prompts.NewPromptContext()
		if c.dbDescription != "" {
			pctx.DBDescription = c.dbDescription
		}
		pctx.DomainDescription = c.domainDescription
		pctx.ConversationContext = conv.ContextSummary()

		system, err := c.renderer.RenderPrompt(prompts.IntentTemplate, pctx)
		if err != nil {
			return err
		}

		completion, err := c.completer.Complete(ctx, llmtypes.Prompt{
			System:  system,
			History: conv.RecentTurns(HistoryTurns),
			User:    question,
		})
		if err != nil {
			return err
		}

		usage = completion.Usage
		result = Decode(completion.Text)
		telemetry.SetAttributes(ctx, attribute.String("intent", result.String()))
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("intent classification failed, treating question as ambiguous")
		return Ambiguous, llmtypes.TokenUsage{}
	}

	log.WithField("intent", result).Debug("classified question")
	return result, usage
}
