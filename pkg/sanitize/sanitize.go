// Package sanitize holds the pattern-based rewrites applied to model
// generated SQL. Nothing here parses SQL; every step is a text rewrite.
package sanitize

import (
	"regexp"
	"strings"
)

var (
	// crm_customer.c.id -> c.id
	tableAliasColumn = regexp.MustCompile(`(?i)\b(\w+)\.([a-z])\.(\w+)\b`)
	// c.crm_customer.id -> c.id
	aliasTableColumn = regexp.MustCompile(`(?i)\b([a-z])\.(\w+)\.(\w+)\b`)
	// crm_customer.crm_customer.id -> crm_customer.id, checked at each word start
	threePartReference = regexp.MustCompile(`^(\w+)\.(\w+)\.(\w+)\b`)

	schemaToken = regexp.MustCompile(`\b([a-zA-Z_][a-zA-Z0-9_]*)\s+`)
)

// Sanitize applies the qualifier collapse rules and then, when schema is
// non-empty, the casing repair. Applying it twice equals applying it once.
func Sanitize(sql, schema string) string {
	sql = CollapseQualifiers(sql)
	if schema != "" {
		sql = RepairCasing(sql, schema)
	}
	return sql
}

// CollapseQualifiers rewrites the three invalid column reference shapes
// models tend to produce into two-part references. The alias in the first
// two rules must be a single letter.
func CollapseQualifiers(sql string) string {
	sql = tableAliasColumn.ReplaceAllString(sql, "${2}.${3}")
	sql = aliasTableColumn.ReplaceAllString(sql, "${1}.${3}")
	return collapseRepeatedQualifier(sql)
}

// collapseRepeatedQualifier rewrites name.NAME.column to name.column. RE2 has
// no backreferences, so each word start is tried in turn and the first two
// parts are compared case-insensitively.
func collapseRepeatedQualifier(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))

	for i := 0; i < len(sql); {
		if isWordStart(sql, i) {
			if m := threePartReference.FindStringSubmatchIndex(sql[i:]); m != nil {
				first, second := sql[i+m[2]:i+m[3]], sql[i+m[4]:i+m[5]]
				if strings.EqualFold(first, second) {
					b.WriteString(first)
					b.WriteByte('.')
					b.WriteString(sql[i+m[6] : i+m[7]])
					i += m[1]
					continue
				}
			}
		}
		b.WriteByte(sql[i])
		i++
	}
	return b.String()
}

func isWordStart(s string, i int) bool {
	return isWordByte(s[i]) && (i == 0 || !isWordByte(s[i-1]))
}

func isWordByte(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// RepairCasing rewrites every case-insensitive whole-word occurrence of a
// schema token to the casing the schema declares. Tokens are identifiers
// followed by whitespace in the schema text. String literals and dollar
// quoted blocks are rewritten too.
func RepairCasing(sql, schema string) string {
	declared := make(map[string]string)
	var order []string
	for _, m := range schemaToken.FindAllStringSubmatch(schema, -1) {
		lower := strings.ToLower(m[1])
		if _, ok := declared[lower]; !ok {
			order = append(order, lower)
		}
		declared[lower] = m[1]
	}

	for _, lower := range order {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(lower) + `\b`)
		sql = pattern.ReplaceAllLiteralString(sql, declared[lower])
	}
	return sql
}
