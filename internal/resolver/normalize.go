// Package resolver implements adaptive EQ preset resolution: a
// profile-scoped rules index, the pure song→album→genre→default lookup,
// and the polling worker that reacts to track changes.
package resolver

import (
	"html"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeKey canonicalizes a lookup key: HTML entities decoded, NFC
// composition applied, lowercased, and wrapping whitespace stripped.
// NFC keeps decomposed metadata (common from macOS sources) matching
// precomposed mapping keys.
func NormalizeKey(input string) string {
	s := html.UnescapeString(input)
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	return strings.TrimSpace(s)
}
