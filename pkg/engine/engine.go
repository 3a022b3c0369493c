// Package engine answers one question at a time: it classifies the question,
// routes it to SQL generation or a conversational responder and records the
// exchange in the conversation memory.
package engine

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/sqlpilot/sqlpilot/pkg/intent"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/prompts"
	"github.com/sqlpilot/sqlpilot/pkg/sanitize"
	"github.com/sqlpilot/sqlpilot/pkg/schema"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
	"github.com/sqlpilot/sqlpilot/pkg/sqlgen"
	"github.com/sqlpilot/sqlpilot/pkg/telemetry"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
	"github.com/sqlpilot/sqlpilot/pkg/websearch"
)

const (
	ambiguousNote   = "Intent was ambiguous, attempted SQL generation"
	rephraseMessage = "Your question is unclear. Please rephrase your question."
)

// Assistant turn texts and intent tags stored in memory
const (
	turnSpatialSQL   = "Generated spatial SQL query"
	turnSQL          = "Generated SQL query"
	turnAmbiguousSQL = "Generated SQL from ambiguous query"

	tagAmbiguousSQL   = "ambiguous_sql"
	tagAmbiguousError = "ambiguous_error"
)

// Memory is the conversation the engine reads and appends to
type Memory interface {
	SessionID() string
	AddMessage(role llmtypes.Role, content string, metadata map[string]any)
	ContextSummary() string
	RecentTurns(n int) []llmtypes.Turn
	TokenEstimate() int
}

// Engine answers questions about one connection
type Engine struct {
	completer  llmtypes.Completer
	catalog    *schema.Catalog
	renderer   *prompts.Renderer
	searcher   websearch.Searcher
	classifier *intent.Classifier
	synth      *sqlgen.Synthesizer
}

// Option configures an Engine
type Option func(*Engine)

// WithSearcher enables web search for general-knowledge questions
func WithSearcher(searcher websearch.Searcher) Option {
	return func(e *Engine) {
		e.searcher = searcher
	}
}

// WithRenderer replaces the embedded prompt templates
func WithRenderer(renderer *prompts.Renderer) Option {
	return func(e *Engine) {
		if renderer != nil {
			e.renderer = renderer
		}
	}
}

// New creates an engine for the connection described by catalog
func New(completer llmtypes.Completer, catalog *schema.Catalog, opts ...Option) *Engine {
	if catalog == nil {
		catalog = &schema.Catalog{}
	}
	e := &Engine{
		completer: completer,
		catalog:   catalog,
		renderer:  prompts.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.classifier = intent.NewClassifier(completer, e.renderer, catalog.Description(), catalog.DomainDescription())
	e.synth = sqlgen.New(completer, catalog, e.renderer)
	return e
}

// Synthesizer returns the generator, which also repairs failed statements
func (e *Engine) Synthesizer() *sqlgen.Synthesizer {
	return e.synth
}

// Catalog returns the connection knowledge the engine works from
func (e *Engine) Catalog() *schema.Catalog {
	return e.catalog
}

// Classify runs intent classification alone without touching memory
func (e *Engine) Classify(ctx context.Context, question string, mem Memory) (intent.Intent, llmtypes.TokenUsage) {
	return e.classifier.Classify(ctx, question, mem)
}

// ProcessQuery answers question, recording the user turn and exactly one
// assistant turn in mem. Supplying geometry skips classification and forces
// a spatial query. Failed SQL generation and unsafe spatial statements are
// returned as a *ProcessingError carrying the partial envelope.
func (e *Engine) ProcessQuery(ctx context.Context, mem Memory, question string, geometry spatial.Geometry) (*Envelope, error) {
	ctx = logger.WithLogger(ctx, logger.G(ctx).WithField("session_id", mem.SessionID()))
	log := logger.G(ctx)

	var env *Envelope
	err := telemetry.WithSpan(ctx, "engine.process_query", func(ctx context.Context) error {
		var err error
		env, err = e.process(ctx, mem, question, geometry)
		if env != nil {
			telemetry.SetAttributes(ctx,
				attribute.String("engine.state", string(env.State)),
				attribute.String("intent", env.Intent.String()),
				attribute.Int("llm.total_tokens", env.LLMTokenUsage.TotalTokensUsed),
			)
		}
		return err
	})
	if err != nil {
		log.WithError(err).Warn("question could not be answered")
		return env, err
	}

	log.WithField("intent", env.Intent).
		WithField("state", env.State).
		WithField("tokens", env.LLMTokenUsage.TotalTokensUsed).
		Info("question answered")
	return env, nil
}

func (e *Engine) process(ctx context.Context, mem Memory, question string, geometry spatial.Geometry) (*Envelope, error) {
	mem.AddMessage(llmtypes.RoleUser, question, nil)

	env := &Envelope{Status: StatusSuccess, Question: question, State: StateInit}

	var detected intent.Intent
	var usage llmtypes.TokenUsage
	if geometry != nil {
		detected = intent.SQLSpatial
		logger.G(ctx).Debug("geometry supplied, skipping classification")
	} else {
		detected, usage = e.classifier.Classify(ctx, question, mem)
	}
	env.Intent = detected
	env.LLMTokenUsage = TokenBreakdown{IntentClassification: usage, TotalTokensUsed: usage.TotalTokens}

	var err error
	switch detected {
	case intent.SQLSpatial:
		err = e.answerSpatial(ctx, mem, env, geometry)
	case intent.SQLQuery:
		err = e.answerSQL(ctx, mem, env)
	case intent.CasualChat:
		e.answerConversational(mem, env, StateCasual, e.casualReply(ctx, question))
	case intent.GeneralKnowledge:
		e.answerConversational(mem, env, StateGeneralKnowledge, e.generalReply(ctx, question))
	case intent.SarcasticResponse:
		e.answerConversational(mem, env, StateSarcastic, e.sarcasticReply(ctx, question))
	default:
		e.answerAmbiguous(ctx, mem, env)
	}

	env.ConversationTokenEstimate = mem.TokenEstimate()
	if err != nil {
		env.Status = StatusError
		env.Error = err.Error()
		return env, &ProcessingError{Err: err, Envelope: env}
	}
	return env, nil
}

func (e *Engine) generate(ctx context.Context, mem Memory, env *Envelope, geometry spatial.Geometry) (sqlgen.GeneratedQuery, error) {
	query, err := e.synth.Generate(ctx, mem, sqlgen.Request{Question: env.Question, Geometry: geometry})
	env.LLMTokenUsage.addTableSelection(query.Usage.TableSelection)
	env.LLMTokenUsage.addSQLGeneration(query.Usage.SQLGeneration)
	return query, err
}

func (e *Engine) answerSpatial(ctx context.Context, mem Memory, env *Envelope, geometry spatial.Geometry) error {
	env.State = StateSpatial
	env.GeometryProvided = geometry != nil
	if geometry != nil {
		env.GeometryType = geometry.Type()
	}

	query, err := e.generate(ctx, mem, env, geometry)
	if err != nil {
		return err
	}
	if sanitize.IsMutating(query.SQL) {
		return ErrUnsafeStatement
	}

	strict := sanitize.SingleLine(query.SQL)
	env.SQLQuery = strict
	env.SQLQueryPgAdmin = strict
	env.SQLQueryClean = sanitize.SingleLine(sanitize.DisplayVariant(query.SQL))
	env.FilteredTables = query.Tables
	env.SchemaTokenSize = query.SchemaWords()
	env.Note = ExecutionNote

	mem.AddMessage(llmtypes.RoleAssistant, turnSpatialSQL, map[string]any{
		memory.MetadataIntent:     intent.SQLSpatial.String(),
		memory.MetadataTablesUsed: query.Tables,
	})
	return nil
}

func (e *Engine) answerSQL(ctx context.Context, mem Memory, env *Envelope) error {
	env.State = StateStandardSQL

	query, err := e.generate(ctx, mem, env, nil)
	if err != nil {
		return err
	}

	env.SQLQuery = query.SQL
	env.FilteredTables = query.Tables
	env.FilteredSchema = query.Schema
	env.SchemaTokenSize = query.SchemaWords()

	mem.AddMessage(llmtypes.RoleAssistant, turnSQL, map[string]any{
		memory.MetadataIntent:     intent.SQLQuery.String(),
		memory.MetadataTablesUsed: query.Tables,
	})
	return nil
}

func (e *Engine) answerConversational(mem Memory, env *Envelope, state State, r reply) {
	env.State = state
	env.Response = r.text
	if r.err != nil {
		env.Error = r.err.Error()
	}
	env.LLMTokenUsage.addResponse(r.usage)

	mem.AddMessage(llmtypes.RoleAssistant, r.text, map[string]any{
		memory.MetadataIntent: env.Intent.String(),
	})
}

// answerAmbiguous tries SQL generation anyway and asks the user to
// rephrase when that fails
func (e *Engine) answerAmbiguous(ctx context.Context, mem Memory, env *Envelope) {
	env.State = StateAmbiguousSQLAttempt

	query, err := e.generate(ctx, mem, env, nil)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("sql generation for ambiguous question failed")
		env.State = StateAmbiguousFailed
		env.Status = StatusError
		env.Intent = intent.Ambiguous
		env.Response = rephraseMessage
		mem.AddMessage(llmtypes.RoleAssistant, rephraseMessage, map[string]any{
			memory.MetadataIntent: tagAmbiguousError,
		})
		return
	}

	env.Intent = intent.SQLQuery
	env.SQLQuery = query.SQL
	env.FilteredTables = query.Tables
	env.FilteredSchema = query.Schema
	env.SchemaTokenSize = query.SchemaWords()
	env.Note = ambiguousNote

	mem.AddMessage(llmtypes.RoleAssistant, turnAmbiguousSQL, map[string]any{
		memory.MetadataIntent: tagAmbiguousSQL,
	})
}
