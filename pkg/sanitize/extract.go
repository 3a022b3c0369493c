package sanitize

import (
	"regexp"
	"strings"
)

var (
	statementStart = regexp.MustCompile(`(?i)\b(WITH|SELECT)\b`)
	whitespaceRun  = regexp.MustCompile(`\s+`)

	// checked in order; the first one found cuts the text
	proseTrailers = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\n\s*Note\s*:`),
		regexp.MustCompile(`(?i)\n\s*Explanation\s*:`),
		regexp.MustCompile(`(?i)\n\s*This query`),
		regexp.MustCompile(`(?i)\n\s*The query`),
		regexp.MustCompile(`(?i)\n\s*Output`),
	}
)

// ExtractStatement pulls a single executable statement out of raw model
// output: fences are stripped, text before the first WITH/SELECT and any
// explanatory trailer is dropped, everything after the first ';' is cut,
// whitespace is collapsed and a terminating ';' ensured.
func ExtractStatement(text string) string {
	if text == "" {
		return ""
	}

	content := StripFences(text)

	if loc := statementStart.FindStringIndex(content); loc != nil {
		content = content[loc[0]:]
	}

	for _, trailer := range proseTrailers {
		if loc := trailer.FindStringIndex(content); loc != nil {
			content = content[:loc[0]]
			break
		}
	}

	if idx := strings.Index(content, ";"); idx != -1 {
		content = content[:idx+1]
	}

	content = strings.TrimSpace(whitespaceRun.ReplaceAllString(content, " "))
	if content != "" && !strings.HasSuffix(content, ";") {
		content += ";"
	}
	return content
}

// StripFences removes ```sql and ``` markers and surrounding whitespace
func StripFences(text string) string {
	text = strings.ReplaceAll(text, "```sql", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}

// SingleLine collapses whitespace and ensures a terminating ';'
func SingleLine(sql string) string {
	sql = whitespaceRun.ReplaceAllString(strings.TrimSpace(sql), " ")
	if !strings.HasSuffix(sql, ";") {
		sql += ";"
	}
	return sql
}
