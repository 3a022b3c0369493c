package schema

import (
	"strings"

	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// AllowList restricts which tables may appear in prompts and schema text.
// Entries are exact names or glob patterns such as "crm_*". An empty
// allow-list permits every table.
type AllowList struct {
	entries  []string
	literals map[string]bool
	patterns []glob.Glob
}

// NewAllowList compiles the entries. Entries without glob metacharacters are
// matched exactly.
func NewAllowList(entries []string) (*AllowList, error) {
	a := &AllowList{literals: make(map[string]bool)}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		a.entries = append(a.entries, entry)
		if !strings.ContainsAny(entry, "*?[{") {
			a.literals[entry] = true
			continue
		}
		g, err := glob.Compile(entry)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid table pattern %q", entry)
		}
		a.patterns = append(a.patterns, g)
	}
	return a, nil
}

// MustAllowList is NewAllowList for static entries
func MustAllowList(entries ...string) *AllowList {
	a, err := NewAllowList(entries)
	if err != nil {
		panic(err)
	}
	return a
}

// IsEmpty reports whether the allow-list is unrestricted
func (a *AllowList) IsEmpty() bool {
	return a == nil || len(a.entries) == 0
}

// Entries returns the configured entries in order
func (a *AllowList) Entries() []string {
	if a == nil {
		return nil
	}
	return append([]string(nil), a.entries...)
}

// Names returns the literal table names, in configured order
func (a *AllowList) Names() []string {
	if a == nil {
		return nil
	}
	var names []string
	for _, entry := range a.entries {
		if a.literals[entry] {
			names = append(names, entry)
		}
	}
	return names
}

// Permits reports whether table may be used
func (a *AllowList) Permits(table string) bool {
	if a.IsEmpty() {
		return true
	}
	if a.literals[table] {
		return true
	}
	for _, g := range a.patterns {
		if g.Match(table) {
			return true
		}
	}
	return false
}

// Filter keeps the tables the allow-list permits, preserving order and
// dropping duplicates
func (a *AllowList) Filter(tables []string) []string {
	seen := make(map[string]bool, len(tables))
	var out []string
	for _, table := range tables {
		if seen[table] || !a.Permits(table) {
			continue
		}
		seen[table] = true
		out = append(out, table)
	}
	return out
}

// Expand returns the literal entries followed by any candidates matched only
// by a pattern entry. An empty allow-list expands to nothing.
func (a *AllowList) Expand(candidates []string) []string {
	if a.IsEmpty() {
		return nil
	}
	out := a.Names()
	seen := make(map[string]bool, len(out))
	for _, name := range out {
		seen[name] = true
	}
	for _, candidate := range candidates {
		if seen[candidate] {
			continue
		}
		for _, g := range a.patterns {
			if g.Match(candidate) {
				seen[candidate] = true
				out = append(out, candidate)
				break
			}
		}
	}
	return out
}
