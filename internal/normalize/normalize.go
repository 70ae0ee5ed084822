// Package normalize implements the pure, I/O-free functions that define
// cache-key identity across the core: ISBN canonicalization, title/author
// folding, and image-URL tidying. Two callers producing byte-identical
// normalized keys must hit the same cache entry, so nothing here may depend
// on wall-clock time, randomness, or external state.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	isbn13RE = regexp.MustCompile(`^\d{13}$`)
	isbn10RE = regexp.MustCompile(`^\d{9}[\dXx]$`)

	nonAlphaNumSpace = regexp.MustCompile(`[^a-z0-9 ]`)
	multiSpace       = regexp.MustCompile(`\s+`)

	leadingArticle = regexp.MustCompile(`^(the|a|an) `)
	titlePunct     = regexp.MustCompile(`[^\p{L}\p{N} ]`)
)

// ValidISBN reports whether s is a hyphen/space-tolerant ISBN-10 or ISBN-13.
func ValidISBN(s string) bool {
	c := stripISBNFormatting(s)
	return isbn13RE.MatchString(c) || isbn10RE.MatchString(strings.ToUpper(c))
}

// NormalizeISBN strips hyphens and whitespace and returns the canonical
// compact form. The empty string is returned for input that is not a valid
// ISBN-10 or ISBN-13; callers must check ValidISBN (or the returned value)
// before trusting the result.
//
// NormalizeISBN is idempotent: NormalizeISBN(NormalizeISBN(x)) == NormalizeISBN(x).
func NormalizeISBN(s string) string {
	c := stripISBNFormatting(s)
	if isbn13RE.MatchString(c) {
		return c
	}
	upper := strings.ToUpper(c)
	if isbn10RE.MatchString(upper) {
		return upper
	}
	return ""
}

func stripISBNFormatting(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '-' || unicode.IsSpace(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ISBN10ToISBN13 converts a 10-digit ISBN to its 13-digit equivalent by
// prefixing "978" and recomputing the check digit. s must already be a
// normalized, valid ISBN-10; non-ISBN-10 input is returned unchanged.
func ISBN10ToISBN13(s string) string {
	if !isbn10RE.MatchString(strings.ToUpper(s)) {
		return s
	}
	core := "978" + s[:9]
	sum := 0
	for i, r := range core {
		d := int(r - '0')
		if i%2 == 0 {
			sum += d
		} else {
			sum += d * 3
		}
	}
	check := (10 - sum%10) % 10
	return core + string(rune('0'+check))
}

// NormalizeTitle folds s per spec.md section 4.1: trim, lower-case, strip one
// leading article ("the "/"a "/"an "), remove punctuation, collapse
// whitespace.
func NormalizeTitle(s string) string {
	t := strings.ToLower(strings.TrimSpace(s))
	t = titlePunct.ReplaceAllString(t, "")
	t = multiSpace.ReplaceAllString(t, " ")
	t = strings.TrimSpace(t)
	t = leadingArticle.ReplaceAllString(t, "")
	return t
}

// NormalizeAuthor folds s to a display-stable lower-case form. Punctuation is
// preserved; only NormalizeAuthorKey applies the stricter alphanumeric key
// used for author-merge identity.
func NormalizeAuthor(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeAuthorKey produces the deduplication key from spec.md section 3:
// lower-case, strip accents/diacritics, collapse whitespace, strip all
// characters outside [a-z0-9 ].
func NormalizeAuthorKey(s string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		folded = s
	}
	k := strings.ToLower(strings.TrimSpace(folded))
	k = nonAlphaNumSpace.ReplaceAllString(k, "")
	k = multiSpace.ReplaceAllString(k, " ")
	return strings.TrimSpace(k)
}

// NormalizeImageURL drops the query string and forces https. Input that
// cannot be tidied is returned unchanged, per spec.md section 4.1.
func NormalizeImageURL(s string) string {
	if s == "" {
		return s
	}
	u := s
	if i := strings.IndexByte(u, '?'); i >= 0 {
		u = u[:i]
	}
	switch {
	case strings.HasPrefix(u, "https://"):
		return u
	case strings.HasPrefix(u, "http://"):
		return "https://" + strings.TrimPrefix(u, "http://")
	case strings.HasPrefix(u, "//"):
		return "https:" + u
	default:
		return s
	}
}

// SHA256Hex returns the lower-case hex SHA-256 digest of s, used to build
// content-addressed CSV cache keys (spec.md section 3, "csv-parse:<sha256>:v1").
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
