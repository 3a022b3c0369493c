package sanitize

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// ErrReadOnlyViolation matches every error returned by AssertReadOnly
var ErrReadOnlyViolation = errors.New("statement is not read-only")

// Rejection reasons reported by AssertReadOnly
const (
	ReasonMultipleStatements = "Only one SQL statement is allowed."
	ReasonNotSelect          = "Only SELECT queries are allowed."
	ReasonWriteKeyword       = "Non-SELECT operations are blocked."
	ReasonDangerousKeyword   = "Dangerous SQL keywords detected."
	ReasonRefusal            = "Query rejected: Data modification not allowed. Only SELECT queries are permitted."
)

var (
	// write keywords only count in statement position, so REPLACE(...) and
	// TRUNCATE(x, 2) are left alone
	writeStatements = regexp.MustCompile(`(?i)\b(insert\s+into|update\s+\S+\s+set|delete\s+from|merge\s+into|replace\s+into|truncate\s+(table\s+)?[a-z_"\x60\[]|(create|alter|drop)\s+(or\s+replace\s+|temp\s+|temporary\s+|unique\s+|materialized\s+)*(table|view|index|schema|database|function|procedure|trigger|sequence|role|user|extension|type)\b|grant\s+\w+|revoke\s+\w+|call\s+\w+\s*\(|exec(ute)?\s+\w+)`)
	dangerousCalls  = regexp.MustCompile(`(?i)(\b(exec|system|shell|eval|__import__|xp_cmdshell|pg_read_file|pg_read_binary_file|pg_ls_dir|lo_import|lo_export|dblink)\s*\(|\bos\.system\b|\bsubprocess\b)`)

	quotedText = regexp.MustCompile(`(?s)\$\$.*?\$\$|'(?:[^']|'')*'|"(?:[^"]|"")*"`)
	comments   = regexp.MustCompile(`(?s)--[^\n]*|/\*.*?\*/`)

	// fragments of the read-only refusal the generator is told to answer with
	refusalMarkers = []string{"I can only generate SELECT queries", "cannot modify the database"}
)

// blankQuoted replaces string literals, quoted identifiers, $$ blocks and
// comments with empty placeholders so keyword scans only see SQL text
func blankQuoted(sql string) string {
	sql = quotedText.ReplaceAllStringFunc(sql, func(m string) string {
		switch m[0] {
		case '"':
			return `""`
		case '$':
			return "$$$$"
		default:
			return "''"
		}
	})
	return comments.ReplaceAllString(sql, " ")
}

// ReadOnlyError explains why a statement was rejected
type ReadOnlyError struct {
	Reason string
}

func (e *ReadOnlyError) Error() string {
	return e.Reason
}

// Is makes errors.Is(err, ErrReadOnlyViolation) hold
func (e *ReadOnlyError) Is(target error) bool {
	return target == ErrReadOnlyViolation
}

// IsRefusal reports whether text is the model declining to write data
// rather than a statement
func IsRefusal(text string) bool {
	for _, marker := range refusalMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// AssertReadOnly rejects anything but a single SELECT or WITH statement
// free of write statements and shell-like calls. Quoted text and comments
// are ignored.
func AssertReadOnly(sql string) error {
	if IsRefusal(sql) {
		return &ReadOnlyError{Reason: ReasonRefusal}
	}

	cleaned := strings.TrimSpace(blankQuoted(sql))
	if strings.Count(cleaned, ";") > 1 || (cleaned != "" && strings.Contains(cleaned[:len(cleaned)-1], ";")) {
		return &ReadOnlyError{Reason: ReasonMultipleStatements}
	}

	normalized := strings.ToLower(strings.TrimSpace(strings.TrimRight(cleaned, ";")))
	if !strings.HasPrefix(normalized, "select") && !strings.HasPrefix(normalized, "with") {
		return &ReadOnlyError{Reason: ReasonNotSelect}
	}
	if writeStatements.MatchString(normalized) {
		return &ReadOnlyError{Reason: ReasonWriteKeyword}
	}
	if dangerousCalls.MatchString(normalized) {
		return &ReadOnlyError{Reason: ReasonDangerousKeyword}
	}
	return nil
}
