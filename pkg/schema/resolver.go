package schema

import (
	"context"
	"strings"

	"github.com/sqlpilot/sqlpilot/pkg/logger"
)

// FilteredSchema renders schema text for the requested tables. The cached
// descriptor is preferred; live introspection is the fallback. Only tables
// the allow-list permits are ever rendered. When nothing was requested the
// allow-list itself is used, or every table when the allow-list is empty.
// The result is schema text or one of the sentinel strings, never an error.
func FilteredSchema(ctx context.Context, requested []string, allow *AllowList, cached Descriptor, introspector Introspector) string {
	if len(cached) > 0 {
		if rendered := cached.Render(candidateTables(requested, allow, cached.Tables())); rendered != "" {
			return rendered
		}
	}

	if introspector == nil {
		return NoMatchingTables
	}

	catalog, err := introspector.Tables(ctx)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("failed to list tables for schema")
		return errorPrefix + err.Error()
	}

	available := matchCatalog(candidateTables(requested, allow, catalog), catalog)
	if len(available) == 0 {
		return NoMatchingTables
	}

	var b strings.Builder
	for _, table := range available {
		columns, err := introspector.Columns(ctx, table)
		if err != nil {
			logger.G(ctx).WithError(err).WithField("table", table).Warn("failed to introspect table")
			return errorPrefix + err.Error()
		}
		b.WriteString(renderDDL(table, columns))
	}
	return b.String()
}

// candidateTables is the requested tables the allow-list permits or, when
// nothing was requested, every permitted table of known
func candidateTables(requested []string, allow *AllowList, known []string) []string {
	switch {
	case len(requested) > 0:
		return allow.Filter(requested)
	case allow.IsEmpty():
		return known
	default:
		return allow.Expand(known)
	}
}

// matchCatalog resolves requested names against the live catalog by exact
// name or by the last dot-separated segment, returning catalog names.
func matchCatalog(requested, catalog []string) []string {
	known := make(map[string]bool, len(catalog))
	for _, table := range catalog {
		known[table] = true
	}

	seen := make(map[string]bool)
	var out []string
	for _, table := range requested {
		name := table
		if !known[name] {
			name = table[strings.LastIndex(table, ".")+1:]
			if !known[name] {
				continue
			}
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}
