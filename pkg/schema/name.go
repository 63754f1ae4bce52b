package schema

import (
	"regexp"
	"strings"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	disallowed    = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// DeriveName normalizes a form's display name into a snapshot name:
// whitespace runs collapse to a single underscore, every character
// outside [a-zA-Z0-9_-] is stripped, and the result is lower-cased.
// Pure: the same display name always derives the same snapshot name.
func DeriveName(displayName string) string {
	name := whitespaceRun.ReplaceAllString(strings.TrimSpace(displayName), "_")
	name = disallowed.ReplaceAllString(name, "")
	return strings.ToLower(name)
}
