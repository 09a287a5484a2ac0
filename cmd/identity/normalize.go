package identity

import "strings"

// NormalizeEmail trims surrounding whitespace. Case is preserved: email matching is exact.
func NormalizeEmail(s string) string {
	return strings.TrimSpace(s)
}

// NormalizeName trims surrounding whitespace.
func NormalizeName(s string) string {
	return strings.TrimSpace(s)
}
