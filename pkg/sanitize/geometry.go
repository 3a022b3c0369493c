package sanitize

import (
	"regexp"
	"strings"
)

// GeometryPlaceholder is what the model writes where the geometry literal goes
const GeometryPlaceholder = "__GEOJSON__"

var geomFromGeoJSONCall = regexp.MustCompile(`(?i)ST_GeomFromGeoJSON\((.*?)\)`)

// mutatingPrefixes are rejected at the start of spatial statements
var mutatingPrefixes = []string{"UPDATE ", "DELETE ", "INSERT ", "DROP ", "TRUNCATE ", "ALTER ", "CREATE "}

// SubstituteGeometry replaces the placeholder, quoted or bare, with the
// GeoJSON text wrapped in PostgreSQL dollar quotes. SQL without the
// placeholder is returned unchanged.
func SubstituteGeometry(sql, geoJSON string) string {
	if !strings.Contains(sql, GeometryPlaceholder) {
		return sql
	}
	literal := "$$" + geoJSON + "$$"
	sql = strings.ReplaceAll(sql, "'"+GeometryPlaceholder+"'", literal)
	sql = strings.ReplaceAll(sql, `"`+GeometryPlaceholder+`"`, literal)
	return strings.ReplaceAll(sql, GeometryPlaceholder, literal)
}

// DisplayVariant swaps double quotes for single quotes inside
// ST_GeomFromGeoJSON(...) calls for easier reading. The result is not meant
// to be executed.
func DisplayVariant(sql string) string {
	return geomFromGeoJSONCall.ReplaceAllStringFunc(sql, func(call string) string {
		return strings.ReplaceAll(call, `"`, "'")
	})
}

// IsMutating reports whether the statement starts with a write keyword
func IsMutating(sql string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, prefix := range mutatingPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	return false
}
