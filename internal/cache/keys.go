package cache

import (
	"fmt"
	"strings"

	"github.com/foliograph/foliograph/internal/normalize"
)

// Key builders implement the grammar from spec.md section 3:
// <class>:<normalized-primary-field>[:<secondary>...]. Two callers producing
// byte-identical normalized keys must hit the same entry, so every builder
// routes its inputs through internal/normalize.

// ISBNKey builds the cache key for an ISBN lookup.
func ISBNKey(isbn string) string {
	return "isbn:" + normalize.NormalizeISBN(isbn)
}

// TitleKey builds the cache key for a title-only lookup.
func TitleKey(title string) string {
	return "title:" + normalize.NormalizeTitle(title)
}

// AuthorKey builds the cache key for an author-only lookup.
func AuthorKey(author string) string {
	return "author:" + normalize.NormalizeAuthorKey(author)
}

// AdvancedKey builds the cache key for a multi-field advanced query.
func AdvancedKey(title, author, year, publisher string) string {
	parts := []string{
		normalize.NormalizeTitle(title),
		normalize.NormalizeAuthorKey(author),
		strings.TrimSpace(year),
		normalize.NormalizeTitle(publisher),
	}
	return "advanced:" + strings.Join(parts, ":")
}

// CSVParseKey builds the content-addressed key for a CSV import payload.
func CSVParseKey(csvText string) string {
	return fmt.Sprintf("csv-parse:%s:v1", normalize.SHA256Hex(csvText))
}

// EnrichKey builds the cache key for a merged enrichment result addressed by
// the same underlying fingerprint as the query that produced it.
func EnrichKey(fingerprint string) string {
	return "enrich:" + fingerprint
}
