package sqlgen

import (
	"encoding/json"
	"strings"

	"github.com/invopop/jsonschema"
)

// ParseTableSelection reads the table-selection reply: a JSON array,
// optionally wrapped in a code fence or surrounded by prose. When no array
// can be decoded, known table names found in the text are returned instead.
func ParseTableSelection(reply string, known []string) []string {
	text := strings.TrimSpace(reply)
	switch {
	case strings.HasPrefix(text, "```json"):
		text = strings.TrimSpace(unfence(text, len("```json")))
	case strings.HasPrefix(text, "```"):
		text = strings.TrimSpace(unfence(text, len("```")))
	}

	candidate := text
	start, end := strings.Index(text, "["), strings.LastIndex(text, "]")
	if start != -1 && end > start {
		candidate = text[start : end+1]
	}

	var decoded any
	if err := json.Unmarshal([]byte(candidate), &decoded); err == nil {
		items, ok := decoded.([]any)
		if !ok {
			return []string{}
		}
		tables := make([]string, 0, len(items))
		for _, item := range items {
			if name, ok := item.(string); ok {
				tables = append(tables, name)
			}
		}
		return tables
	}

	tables := []string{}
	for _, name := range known {
		if strings.Contains(text, name) {
			tables = append(tables, name)
		}
	}
	return tables
}

// unfence drops the opening marker and the last three characters, which a
// fenced reply closes with.
func unfence(text string, open int) string {
	if len(text) < open+3 {
		return ""
	}
	return text[open : len(text)-3]
}

// TableSelectionSchema describes the reply the table-selection prompt asks for
func TableSelectionSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	s := reflector.Reflect([]string{})
	s.Title = "table_selection"
	s.Description = "Names of the tables needed to answer the question"
	return s
}
