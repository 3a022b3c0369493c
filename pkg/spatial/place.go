package spatial

import (
	"regexp"
	"strings"
)

var (
	placeSuffix     = regexp.MustCompile(`(?i)\b(?:in|inside|within)\s+([a-zA-Z][a-zA-Z\s\.'-]{1,80})\??\s*$`)
	trailingPunct   = regexp.MustCompile(`[\s\.,;:!?]+$`)
	possessiveFarm  = regexp.MustCompile(`(?i)'s\s+farm$`)
	farmSuffix      = regexp.MustCompile(`(?i)\s+farm$`)
	settlementWords = regexp.MustCompile(`(?i)\s+(?:falia|village|city|town)$`)
	nonAlnum        = regexp.MustCompile(`[^a-z0-9]`)
	safeIdentifier  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// ExtractPlaceName returns the place in questions ending like
// "... in Nashik" or "... inside Nashik?", or "" when there is none.
func ExtractPlaceName(question string) string {
	m := placeSuffix.FindStringSubmatch(strings.TrimSpace(question))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// CleanPlace drops trailing punctuation and farm/settlement suffixes
func CleanPlace(place string) string {
	cleaned := strings.TrimSpace(place)
	cleaned = trailingPunct.ReplaceAllString(cleaned, "")
	cleaned = possessiveFarm.ReplaceAllString(cleaned, "")
	cleaned = farmSuffix.ReplaceAllString(cleaned, "")
	cleaned = settlementWords.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// NormalizePlace lowercases and strips separators for loose matching
func NormalizePlace(place string) string {
	return nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(place)), "")
}

// IsSafeIdentifier reports whether s can be interpolated as a quoted identifier
func IsSafeIdentifier(s string) bool {
	return safeIdentifier.MatchString(s)
}
