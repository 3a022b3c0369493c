package prompts

import "embed"

//go:embed templates/*
var TemplateFS embed.FS

// Template paths, relative to TemplateFS.
const (
	IntentTemplate         = "templates/intent.tmpl"
	TableSelectionTemplate = "templates/table_selection.tmpl"
	SQLGenerationTemplate  = "templates/sql_generation.tmpl"
	SQLRepairTemplate      = "templates/sql_repair.tmpl"
	CasualTemplate         = "templates/casual.tmpl"
	SarcasticTemplate      = "templates/sarcastic.tmpl"
	SearchSummaryTemplate  = "templates/search_summary.tmpl"
	SearchQuestionTemplate = "templates/search_question.tmpl"
	SpatialPointTemplate   = "templates/spatial_point.tmpl"
	SpatialAreaTemplate    = "templates/spatial_area.tmpl"
)

// ReadOnlyRefusal is the sentence the generator is told to answer with when
// asked to modify data. Execution rejects any statement that carries it.
const ReadOnlyRefusal = "I can only generate SELECT queries to read data. I cannot modify the database."

// ForbiddenOperations lists the statement kinds the generator must never emit.
var ForbiddenOperations = []string{
	"UPDATE - Modifies existing data",
	"DELETE - Removes data",
	"INSERT - Adds new data",
	"DROP - Deletes tables/databases",
	"TRUNCATE - Removes all rows",
	"ALTER - Changes table structure",
	"CREATE - Creates new objects",
	"RENAME - Renames objects",
	"REPLACE - Replaces data",
	"MERGE - Merges data",
	"COMMIT - Commits transactions",
	"ROLLBACK - Rolls back transactions",
	"SAVEPOINT - Creates savepoints",
	"GRANT - Modifies permissions",
	"REVOKE - Removes permissions",
}
