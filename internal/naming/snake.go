// Package naming normalizes free-form graph names into identifiers.
package naming

import (
	"regexp"
	"strings"
)

var (
	camelBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	nonWord       = regexp.MustCompile(`[^a-z0-9_]+`)
	underscores   = regexp.MustCompile(`_+`)
)

// ToSnakeCase converts s into an identifier matching ^[a-z0-9_]+$.
// Camel case boundaries become underscores, runs of other characters collapse
// into a single underscore, and the result never starts with a digit or is empty.
func ToSnakeCase(s string) string {
	out := camelBoundary.ReplaceAllString(s, "${1}_${2}")
	out = strings.ToLower(out)
	out = nonWord.ReplaceAllString(out, "_")
	out = underscores.ReplaceAllString(out, "_")
	out = strings.Trim(out, "_")

	if out == "" || (out[0] >= '0' && out[0] <= '9') {
		out = "_" + out
	}
	return out
}
