// Package config defines CoreConfig, the single configuration struct every
// core component reads from, replacing the "ambient env parameter" the
// teacher's original source leaned on (design note, SPEC_FULL.md section 9).
package config

import "time"

// CacheTTLs holds the per-class TTLs from spec.md section 6.
type CacheTTLs struct {
	ISBN       time.Duration
	Title      time.Duration
	Advanced   time.Duration
	CSV        time.Duration
	EnrichHigh time.Duration
	EnrichLow  time.Duration
}

// DefaultCacheTTLs returns the defaults from spec.md section 6.
func DefaultCacheTTLs() CacheTTLs {
	return CacheTTLs{
		ISBN:       365 * 24 * time.Hour,
		Title:      7 * 24 * time.Hour,
		Advanced:   6 * time.Hour,
		CSV:        24 * time.Hour,
		EnrichHigh: 24 * time.Hour,
		EnrichLow:  time.Hour,
	}
}

// CoreConfig holds every "recognized option" in spec.md section 6.
// cmd/foliographd uses Default() as is; its CLI flags do not set these
// fields.
type CoreConfig struct {
	ProviderTimeout time.Duration
	// ProviderFanoutLimit bounds concurrent provider calls per enrichment
	// request (SPEC_FULL.md section 4.5); not part of the original option
	// list but required to keep C5's errgroup bounded.
	ProviderFanoutLimit int

	RateWindow      time.Duration
	RateMaxRequests int

	ReadyHandshakeTimeout time.Duration
	BatchTimeout          time.Duration
	BatchConcurrency      int

	CheckpointEveryNUpdates int
	CheckpointEverySeconds  time.Duration

	CleanupAfterTerminal time.Duration

	CacheTTLs CacheTTLs

	TokenLifetime      time.Duration
	TokenRefreshWindow time.Duration

	// EnrichHighQualityThreshold is the merged-quality cutoff expressed as
	// a fraction (0.7 corresponds to an isbndbQuality of 70). No code reads
	// it, nor CacheTTLs.EnrichHigh/EnrichLow: merged enrichment results are
	// cached under their class keys with the class TTLs (ISBN, Title,
	// Advanced), whatever their quality.
	EnrichHighQualityThreshold float64

	// EditionMatchDefaultLimit/MaxLimit bound enrichEditions' limit
	// parameter (spec.md section 4.5: default 20, clamp to [0,100]).
	EditionMatchDefaultLimit int
	EditionMatchMaxLimit     int

	// CSVMaxBytes bounds csv_import input size; exceeding it is a
	// FILE_TOO_LARGE validation error (ambient hardening, not in spec.md
	// but required for any internet-facing upload path).
	CSVMaxBytes int64
}

// Default returns a CoreConfig populated with every default from spec.md
// section 6.
func Default() CoreConfig {
	return CoreConfig{
		ProviderTimeout:     5000 * time.Millisecond,
		ProviderFanoutLimit: 4,

		RateWindow:      60 * time.Second,
		RateMaxRequests: 10,

		ReadyHandshakeTimeout: 10 * time.Second,
		BatchTimeout:          1_800_000 * time.Millisecond,
		BatchConcurrency:      5,

		CheckpointEveryNUpdates: 5,
		CheckpointEverySeconds:  10 * time.Second,

		CleanupAfterTerminal: 24 * time.Hour,

		CacheTTLs: DefaultCacheTTLs(),

		TokenLifetime:      7200 * time.Second,
		TokenRefreshWindow: 1800 * time.Second,

		EnrichHighQualityThreshold: 0.7,

		EditionMatchDefaultLimit: 20,
		EditionMatchMaxLimit:     100,

		CSVMaxBytes: 10 << 20,
	}
}

// Clock abstracts time.Now so actors, caches, and the rate limiter can be
// driven by a fake clock in tests (SPEC_FULL.md A6).
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
