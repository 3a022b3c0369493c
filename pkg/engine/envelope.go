package engine

import (
	"github.com/sqlpilot/sqlpilot/pkg/intent"
	llmtypes "github.com/sqlpilot/sqlpilot/pkg/types/llm"
)

// State names the branch a question was answered by
type State string

const (
	StateInit                State = "INIT"
	StateSpatial             State = "SPATIAL"
	StateStandardSQL         State = "STANDARD_SQL"
	StateCasual              State = "CASUAL"
	StateGeneralKnowledge    State = "GENERAL_KNOWLEDGE"
	StateSarcastic           State = "SARCASTIC"
	StateAmbiguousSQLAttempt State = "AMBIGUOUS_SQL_ATTEMPT"
	StateAmbiguousFailed     State = "AMBIGUOUS_FAILED"
)

// Status values carried by an Envelope
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// ExecutionNote tells clients which statement variant to run
const ExecutionNote = "Use 'sql_query' / 'sql_query_pgadmin' for execution. 'sql_query_clean' is for easy reading."

// TokenBreakdown is the token spend of one question by phase. Phases that
// did not run are omitted.
type TokenBreakdown struct {
	IntentClassification llmtypes.TokenUsage  `json:"intent_classification"`
	TableSelection       *llmtypes.TokenUsage `json:"table_selection,omitempty"`
	SQLGeneration        *llmtypes.TokenUsage `json:"sql_generation,omitempty"`
	Response             *llmtypes.TokenUsage `json:"response,omitempty"`
	TotalTokensUsed      int                  `json:"total_tokens_used"`
}

func (b *TokenBreakdown) addTableSelection(u llmtypes.TokenUsage) {
	b.TableSelection = &u
	b.TotalTokensUsed += u.TotalTokens
}

func (b *TokenBreakdown) addSQLGeneration(u llmtypes.TokenUsage) {
	b.SQLGeneration = &u
	b.TotalTokensUsed += u.TotalTokens
}

func (b *TokenBreakdown) addResponse(u llmtypes.TokenUsage) {
	if u.IsZero() {
		return
	}
	b.Response = &u
	b.TotalTokensUsed += u.TotalTokens
}

// Envelope is the answer to one question
type Envelope struct {
	Status   string        `json:"status"`
	Intent   intent.Intent `json:"intent"`
	Question string        `json:"question"`

	Response string `json:"response,omitempty"`

	SQLQuery        string   `json:"sql_query,omitempty"`
	SQLQueryClean   string   `json:"sql_query_clean,omitempty"`
	SQLQueryPgAdmin string   `json:"sql_query_pgadmin,omitempty"`
	FilteredTables  []string `json:"filtered_tables,omitempty"`
	FilteredSchema  string   `json:"filtered_schema,omitempty"`
	SchemaTokenSize int      `json:"schema_token_size,omitempty"`

	GeometryProvided bool   `json:"geometry_provided,omitempty"`
	GeometryType     string `json:"geometry_type,omitempty"`

	Note  string `json:"note,omitempty"`
	Error string `json:"error,omitempty"`

	ConversationTokenEstimate int            `json:"conversation_token_estimate"`
	LLMTokenUsage             TokenBreakdown `json:"llm_token_usage"`

	State State `json:"-"`
}

// HasSQL reports whether the envelope carries a statement
func (e *Envelope) HasSQL() bool {
	return e.SQLQuery != ""
}
