// Package catalog holds the canonical book-metadata records produced by the
// enrichment orchestrator: Work, Edition, Author, and the cache entry
// envelope they travel in.
package catalog

import "time"

// ProviderID identifies one of the closed set of upstream providers, or the
// synthetic sentinel used when every provider failed.
type ProviderID string

const (
	ProviderVolumeCatalog ProviderID = "volumecatalog"
	ProviderOpenBib       ProviderID = "openbib"
	ProviderISBNRegistry  ProviderID = "isbnregistry"
	ProviderMultimodal    ProviderID = "multimodal"
	ProviderNone          ProviderID = "none"
)

// providerRank orders providers for the merge policy in SPEC_FULL.md 4.5:
// lower rank wins ties and is preferred for primary attributes.
var providerRank = map[ProviderID]int{
	ProviderVolumeCatalog: 0,
	ProviderOpenBib:       1,
	ProviderISBNRegistry:  2,
	ProviderMultimodal:    3,
	ProviderNone:          99,
}

// Rank returns p's position in the preferred-provider order. Unknown
// providers sort after every known provider except ProviderNone.
func (p ProviderID) Rank() int {
	if r, ok := providerRank[p]; ok {
		return r
	}
	return 98
}

// ReviewStatus is the editorial confidence attached to a Work.
type ReviewStatus string

const (
	ReviewVerified    ReviewStatus = "verified"
	ReviewUnverified  ReviewStatus = "unverified"
	ReviewNeedsReview ReviewStatus = "needs_review"
)

// Format is an Edition's physical or digital manifestation. The zero value
// is never used; FormatOther is the explicit default.
type Format string

const (
	FormatHardcover Format = "Hardcover"
	FormatPaperback Format = "Paperback"
	FormatEbook     Format = "E-book"
	FormatAudiobook Format = "Audiobook"
	FormatOther     Format = "Other"
)

// formatRank implements the sort order enrichEditions requires: Hardcover <
// Paperback < E-book < Audiobook < Other.
var formatRank = map[Format]int{
	FormatHardcover: 0,
	FormatPaperback: 1,
	FormatEbook:     2,
	FormatAudiobook: 3,
	FormatOther:     4,
}

// Rank returns f's position in the canonical format sort order.
func (f Format) Rank() int {
	if r, ok := formatRank[f]; ok {
		return r
	}
	return len(formatRank)
}

// Gender is an Author's recorded gender, defaulting to Unknown absent
// provider data.
type Gender string

const (
	GenderMale     Gender = "Male"
	GenderFemale   Gender = "Female"
	GenderNonbinary Gender = "Nonbinary"
	GenderUnknown  Gender = "Unknown"
)

// ExternalIDs maps a provider namespace to that provider's identifier for a
// record. One entry per contributing provider.
type ExternalIDs map[ProviderID]string

// Work is a conceptual book independent of edition.
//
// Invariant: Title is non-empty and trimmed; PrimaryProvider is always a
// member of Contributors.
type Work struct {
	Title                string            `json:"title"`
	Subtitle             string            `json:"subtitle,omitempty"`
	Description          string            `json:"description,omitempty"`
	FirstPublicationYear int               `json:"firstPublicationYear,omitempty"`
	SubjectTags          []string          `json:"subjectTags,omitempty"`
	PrimaryProvider      ProviderID        `json:"primaryProvider"`
	Contributors         []ProviderID      `json:"contributors"`
	Synthetic            bool              `json:"synthetic"`
	ReviewStatus         ReviewStatus      `json:"reviewStatus"`
	ExternalIDs          ExternalIDs       `json:"externalIds,omitempty"`
	Quality              int               `json:"isbndbQuality"`
	CoverImageURL        string            `json:"coverImageURL,omitempty"`
}

// Valid reports whether w satisfies the Work invariants from spec.md section 3.
func (w *Work) Valid() bool {
	if w.Title == "" {
		return false
	}
	return containsProvider(w.Contributors, w.PrimaryProvider)
}

// Edition is a physical or digital manifestation of a Work.
//
// Invariant: if ISBN is set it appears in ISBNs; Format is always present.
type Edition struct {
	ISBNs           []string     `json:"isbns"`
	ISBN            string       `json:"isbn,omitempty"`
	Title           string       `json:"title,omitempty"`
	Publisher       string       `json:"publisher,omitempty"`
	PublicationDate string       `json:"publicationDate,omitempty"`
	PageCount       int          `json:"pageCount,omitempty"`
	Format          Format       `json:"format"`
	Language        string       `json:"language,omitempty"`
	CoverImageURL   string       `json:"coverImageURL,omitempty"`
	ExternalIDs     ExternalIDs  `json:"externalIds,omitempty"`
	Quality         int          `json:"isbndbQuality"`
	PrimaryProvider ProviderID   `json:"primaryProvider"`
	Contributors    []ProviderID `json:"contributors"`
}

// Valid reports whether e satisfies the Edition invariants from spec.md section 3.
func (e *Edition) Valid() bool {
	if e.Format == "" {
		return false
	}
	if e.ISBN == "" {
		return true
	}
	for _, i := range e.ISBNs {
		if i == e.ISBN {
			return true
		}
	}
	return false
}

// Author is a contributor, deduplicated within a response by NormalizedKey.
type Author struct {
	Name      string `json:"name"`
	Gender    Gender `json:"gender"`
	BirthYear int    `json:"birthYear,omitempty"`
	Bio       string `json:"bio,omitempty"`
	Quality   int    `json:"-"`
}

func containsProvider(ids []ProviderID, target ProviderID) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// CacheEntry is the envelope every cache tier stores and retrieves.
type CacheEntry struct {
	Payload     []byte        `json:"-"`
	CachedAt    time.Time     `json:"cachedAt"`
	TTLSeconds  int           `json:"ttlSeconds"`
	Provider    ProviderID    `json:"provider"`
	Quality     int           `json:"quality"`
	CacheSource string        `json:"cacheSource"`
}

// Age returns how long entry has been cached relative to now.
func (entry CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(entry.CachedAt)
}

// Expired reports whether entry's TTL has elapsed as of now.
func (entry CacheEntry) Expired(now time.Time) bool {
	return entry.Age(now) >= time.Duration(entry.TTLSeconds)*time.Second
}
