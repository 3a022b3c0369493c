package sanitize

import (
	"regexp"
	"strings"
)

var qualifiedColumn = regexp.MustCompile(`\b([a-z_][a-z0-9_]*)\.([a-zA-Z_][a-zA-Z0-9_]*)\b`)

// PrepareForExecution turns a generated statement into what the driver
// receives. Fences are stripped, a CTE split from its SELECT by a stray ';'
// is rejoined, the trailing ';' is dropped and, when lowerColumns is set,
// qualified column references are lowercased to match PostgreSQL folding.
func PrepareForExecution(sql string, lowerColumns bool) string {
	cleaned := strings.TrimSpace(StripFences(sql))

	var statements []string
	for _, part := range strings.Split(cleaned, ";") {
		if part = strings.TrimSpace(part); part != "" {
			statements = append(statements, part)
		}
	}

	if len(statements) > 1 {
		var cte, sel string
		for _, stmt := range statements {
			upper := strings.ToUpper(stmt)
			switch {
			case strings.HasPrefix(upper, "WITH"):
				cte = stmt
			case strings.HasPrefix(upper, "SELECT"):
				sel = stmt
			}
		}
		switch {
		case cte != "" && sel != "":
			cleaned = cte + " " + sel
		case sel != "":
			cleaned = sel
		default:
			cleaned = statements[len(statements)-1]
		}
	}

	cleaned = strings.TrimSuffix(cleaned, ";")

	if lowerColumns {
		cleaned = qualifiedColumn.ReplaceAllStringFunc(cleaned, func(ref string) string {
			dot := strings.IndexByte(ref, '.')
			return ref[:dot+1] + strings.ToLower(ref[dot+1:])
		})
	}
	return cleaned
}
