package prompts

// PromptContext carries every value a prompt template may reference.
// Templates only read the fields they need; the rest stay empty.
type PromptContext struct {
	DBDescription       string
	DomainDescription   string
	ConversationContext string

	Schema         string
	SelectedTables string
	TableDetails   string
	Topics         string

	FailedQuery  string
	ErrorMessage string

	Question      string
	SearchResults string

	GeometryType    string
	GeometryColumns string
	Placeholder     string

	ForbiddenOperations []string
	ReadOnlyRefusal     string
}

// NewPromptContext returns a context with the fixed rulebook fields populated.
func NewPromptContext() *PromptContext {
	return &PromptContext{
		DBDescription:       "database",
		ForbiddenOperations: ForbiddenOperations,
		ReadOnlyRefusal:     ReadOnlyRefusal,
	}
}
