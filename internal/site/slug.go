// internal/site/slug.go
//
// Subdomain slug helpers.
//
// • MakeSlug(name) ─ converts arbitrary text into a URL-safe slug restricted
//   to ASCII a-z, 0-9 and “-”.
// • ValidSlug(s)   ─ reports whether s is an already-canonical slug.
//
// Rules (MakeSlug)
// ----------------
// 1. Lower-case everything.
// 2. Convert any run of non-[a-z0-9] characters to one “-”.  That strips
//    spaces, punctuation, emoji, and non-ASCII.
// 3. Collapse consecutive “-” to a single “-”.
// 4. Trim leading / trailing “-”.
// 5. If the result is empty, return "site".
//
// Notes
// -----
// • No Unicode transliteration; slugs are ASCII-only because they become
//   DNS labels.
// • Slugs are max 63 runes to fit a single DNS label.

package site

import (
	"strings"
)

const maxSlugLen = 63 // single DNS label limit

// MakeSlug converts name → lower-kebab ASCII suitable as a DNS label.
func MakeSlug(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastWasDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastWasDash = false
		default:
			// any non-ASCII or punctuation becomes a single dash
			if !lastWasDash {
				b.WriteRune('-')
				lastWasDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "site"
	}
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRightFunc(slug, func(r rune) bool { return r == '-' })
	}
	return slug
}

// ValidSlug reports whether s is non-empty, within the DNS label limit, and
// already in canonical form.
func ValidSlug(s string) bool {
	return s != "" && len(s) <= maxSlugLen && MakeSlug(s) == s
}
