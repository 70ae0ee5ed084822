// Package normalizers converts each provider's raw DTOs into canonical
// Work/Edition/Author records (C3). Every normalizer is total on the subset
// of payloads its provider is documented to emit: missing optional fields
// yield absent optional attributes, never errors.
package normalizers

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/normalize"
)

// htmlPolicy strips all markup from provider-supplied free text (author
// bios, descriptions). Untrusted provider HTML must never reach a JSON
// field verbatim, mirroring the teacher's gr.go _stripTags handling.
var htmlPolicy = bluemonday.StrictPolicy()

// sanitizeText strips HTML tags and un-escapes entities left behind (e.g.
// "&amp;" -> "&"), then collapses whitespace.
func sanitizeText(s string) string {
	if s == "" {
		return ""
	}
	stripped := htmlPolicy.Sanitize(s)
	unescaped := html.UnescapeString(stripped)
	return strings.TrimSpace(collapseWhitespace.ReplaceAllString(unescaped, " "))
}

var collapseWhitespace = regexp.MustCompile(`\s+`)

var yearRE = regexp.MustCompile(`^\d{4}`)

// parseYear extracts a leading 4-digit year from a loosely-formatted date
// string, dropping the value rather than coercing a malformed one (spec.md
// section 4.3).
func parseYear(s string) int {
	m := yearRE.FindString(s)
	if m == "" {
		return 0
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	return y
}

// qualityScore counts how many of the given present/absent flags are true
// and maps the count onto 0-100, per spec.md section 4.3.
func qualityScore(present ...bool) int {
	count := 0
	for _, p := range present {
		if p {
			count++
		}
	}
	if len(present) == 0 {
		return 0
	}
	return (count * 100) / len(present)
}

func parseFormat(s string) catalog.Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hardcover", "hardback":
		return catalog.FormatHardcover
	case "paperback", "softcover":
		return catalog.FormatPaperback
	case "ebook", "e-book":
		return catalog.FormatEbook
	case "audiobook", "audio":
		return catalog.FormatAudiobook
	default:
		return catalog.FormatOther
	}
}

// dedupeISBNs normalizes and deduplicates isbns while preserving order,
// discarding anything that fails validation.
func dedupeISBNs(raw ...string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range raw {
		n := normalize.NormalizeISBN(r)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// primaryISBN picks the ISBN-13 form when available, else the first
// normalized ISBN, matching "isbn is the primary ISBN-13 when available"
// (spec.md section 3).
func primaryISBN(isbns []string) string {
	for _, i := range isbns {
		if len(i) == 13 {
			return i
		}
	}
	if len(isbns) > 0 {
		return isbns[0]
	}
	return ""
}

// newAuthor builds a catalog.Author from a raw name/birth-year/bio triple,
// sanitizing bio. An empty name yields an Author with Name == "" —
// callers must skip it (spec.md section 4.3: empty author arrays produce no
// Author records).
func newAuthor(name string, birthYear int, bio string) catalog.Author {
	n := normalize.NormalizeAuthor(name)
	quality := qualityScore(name != "", birthYear != 0, bio != "")
	return catalog.Author{
		Name:      n,
		Gender:    catalog.GenderUnknown,
		BirthYear: birthYear,
		Bio:       sanitizeText(bio),
		Quality:   quality,
	}
}
