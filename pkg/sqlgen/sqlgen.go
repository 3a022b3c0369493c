// Package sqlgen turns a question into a single read-only SQL statement:
// it picks the relevant tables, renders their schema, asks the model for the
// statement and cleans the reply up.
package sqlgen

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	"github.com/sqlpilot/sqlpilot/pkg/sanitize"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
	"github.com/sqlpilot/sqlpilot/pkg/telemetry"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// HistoryTurns is how many stored turns accompany the generation prompt
const HistoryTurns = 4

// Conversation is the slice of memory the synthesizer reads. It never writes.
type Conversation interface {
	ContextSummary() string
	RecentTurns(n int) []llmtypes.Turn
}

// Usage is the token spend of one generation, per phase
type Usage struct {
	TableSelection llmtypes.TokenUsage `json:"table_selection"`
	SQLGeneration  llmtypes.TokenUsage `json:"sql_generation"`
}

// Total sums both phases
func (u Usage) Total() llmtypes.TokenUsage {
	return u.TableSelection.Add(u.SQLGeneration)
}

// GeneratedQuery is the result of one generation. Values are never mutated;
// WithSQL returns a copy.
type GeneratedQuery struct {
	SQL    string   `json:"sql"`
	Tables []string `json:"tables"`
	Schema string   `json:"schema"`
	Usage  Usage    `json:"usage"`
}

// WithSQL returns a copy of q carrying a different statement
func (q GeneratedQuery) WithSQL(sql string) GeneratedQuery {
	q.Tables = append([]string(nil), q.Tables...)
	q.SQL = sql
	return q
}

// SchemaWords is the whitespace-separated word count of the schema text
func (q GeneratedQuery) SchemaWords() int {
	return len(strings.Fields(q.Schema))
}

// Request describes one generation. Tables and Schema skip table selection
// when both are set. Geometry switches on spatial generation.
type Request struct {
	Question string
	Geometry spatial.Geometry
	Tables   []string
	Schema   string
}

// Synthesizer generates and repairs SQL for one connection
type Synthesizer struct {
	completer llmtypes.Completer
	catalog   *schema.Catalog
	renderer  *prompts.Renderer
}

// New creates a synthesizer. A nil renderer uses the embedded prompts.
func New(completer llmtypes.Completer, catalog *schema.Catalog, renderer *prompts.Renderer) *Synthesizer {
	if renderer == nil {
		renderer = prompts.Default()
	}
	if catalog == nil {
		catalog = &schema.Catalog{}
	}
	return &Synthesizer{completer: completer, catalog: catalog, renderer: renderer}
}

// Catalog returns the connection knowledge the synthesizer works from
func (s *Synthesizer) Catalog() *schema.Catalog {
	return s.catalog
}

// Generate produces a statement for req. Table selection never fails the
// request; a failed generation call does.
func (s *Synthesizer) Generate(ctx context.Context, conv Conversation, req Request) (GeneratedQuery, error) {
	log := logger.G(ctx)
	summary := conv.ContextSummary()
	question := req.Question

	var geoJSON string
	if req.Geometry != nil {
		encoded, err := req.Geometry.JSON()
		if err != nil {
			return GeneratedQuery{}, err
		}
		geoJSON = encoded

		columns, err := s.catalog.GeometryColumns(ctx)
		if err != nil {
			log.WithError(err).Warn("could not discover geometry columns")
		}
		instructions, err := spatial.Instructions(s.renderer, req.Geometry.Type(), spatial.DescribeColumns(columns, err))
		if err != nil {
			return GeneratedQuery{}, errors.Wrap(err, "failed to render spatial instructions")
		}
		question += instructions
	}

	result := GeneratedQuery{Tables: req.Tables, Schema: req.Schema}
	if req.Tables == nil || req.Schema == "" {
		tables, usage, err := s.SelectTables(ctx, question, summary)
		if err != nil {
			return result, err
		}
		result.Tables = tables
		result.Usage.TableSelection = usage
		result.Schema = s.catalog.FilteredSchema(ctx, tables)
	}

	raw, usage, err := s.generate(ctx, conv, question, summary, result.Schema)
	result.Usage.SQLGeneration = usage
	if err != nil {
		return result, err
	}

	sql := sanitize.ExtractStatement(raw)
	if geoJSON != "" {
		sql = sanitize.SubstituteGeometry(sql, geoJSON)
	}
	result.SQL = sanitize.Sanitize(sql, result.Schema)

	log.WithField("tables", result.Tables).Debug("generated sql")
	return result, nil
}

func (s *Synthesizer) generate(ctx context.Context, conv Conversation, question, summary, schemaText string) (string, llmtypes.TokenUsage, error) {
	var completion llmtypes.Completion
	err := telemetry.WithSpan(ctx, "sqlgen.generate", func(ctx context.Context) error {
		pctx := prompts.NewPromptContext()
		pctx.DBDescription = s.catalog.Description()
		pctx.Schema = schemaText
		pctx.SelectedTables = s.catalog.SelectedTables()
		pctx.ConversationContext = summary

		system, err := s.renderer.RenderPrompt(prompts.SQLGenerationTemplate, pctx)
		if err != nil {
			return err
		}

		completion, err = s.completer.Complete(ctx, llmtypes.Prompt{
			System:  system,
			History: conv.RecentTurns(HistoryTurns),
			User:    "Generate SQL for: " + question,
		})
		if err != nil {
			return err
		}
		telemetry.SetAttributes(ctx, telemetry.UsageAttributes(completion.Usage)...)
		return nil
	})
	if err != nil {
		return "", completion.Usage, errors.Wrap(err, "sql generation failed")
	}
	return completion.Text, completion.Usage, nil
}

// SelectTables asks the model which tables the question needs. Unparseable
// replies fall back to scanning for known table names. Only a failed model
// call is an error.
func (s *Synthesizer) SelectTables(ctx context.Context, question, summary string) ([]string, llmtypes.TokenUsage, error) {
	var completion llmtypes.Completion
	err := telemetry.WithSpan(ctx, "sqlgen.select_tables", func(ctx context.Context) error {
		pctx := prompts.NewPromptContext()
		pctx.TableDetails = s.catalog.TableDetails()
		pctx.ConversationContext = summary

		system, err := s.renderer.RenderPrompt(prompts.TableSelectionTemplate, pctx)
		if err != nil {
			return err
		}

		completion, err = s.completer.Complete(ctx, llmtypes.Prompt{System: system, User: question})
		return err
	})
	if err != nil {
		return nil, llmtypes.TokenUsage{}, errors.Wrap(err, "table selection failed")
	}

	tables := ParseTableSelection(completion.Text, s.catalog.KnownTableNames())
	telemetry.SetAttributes(ctx, attribute.StringSlice("sqlgen.tables", tables))
	return tables, completion.Usage, nil
}

// Repair asks the model to fix a statement that failed with errMessage. The
// reply is stripped of fences and sanitized against schemaText.
func (s *Synthesizer) Repair(ctx context.Context, failedSQL, errMessage, schemaText string) (string, llmtypes.TokenUsage, error) {
	var completion llmtypes.Completion
	err := telemetry.WithSpan(ctx, "sqlgen.repair", func(ctx context.Context) error {
		pctx := prompts.NewPromptContext()
		pctx.Schema = schemaText
		pctx.FailedQuery = failedSQL
		pctx.ErrorMessage = errMessage

		system, err := s.renderer.RenderPrompt(prompts.SQLRepairTemplate, pctx)
		if err != nil {
			return err
		}

		completion, err = s.completer.Complete(ctx, llmtypes.Prompt{System: system, User: "Fix this query"})
		return err
	})
	if err != nil {
		return failedSQL, completion.Usage, errors.Wrap(err, "sql repair failed")
	}

	return sanitize.Sanitize(sanitize.StripFences(completion.Text), schemaText), completion.Usage, nil
}
