package forkresolver

import "strings"

// NormalizeName canonicalizes a package name per PEP 503: lowercase, with
// every run of hyphens, underscores, and dots collapsed to one hyphen.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	pendingSep := false

	for _, r := range strings.ToLower(name) {
		if r == '-' || r == '_' || r == '.' {
			pendingSep = b.Len() > 0

			continue
		}

		if pendingSep {
			b.WriteByte('-')

			pendingSep = false
		}

		b.WriteRune(r)
	}

	return b.String()
}
