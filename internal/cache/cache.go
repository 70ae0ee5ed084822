// Package cache implements the two-tier cache (C4): an in-process edge tier
// backed by dgraph-io/ristretto through eko/gocache, and a distributed KV
// tier backed by the Postgres substrate in internal/store. Adapted from the
// teacher's Controller.cache field and its single-flight group in
// internal/controller.go.
package cache

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dgraph-io/ristretto"
	gocache "github.com/eko/gocache/lib/v4/cache"
	gostore "github.com/eko/gocache/lib/v4/store"
	ristrettostore "github.com/eko/gocache/store/ristretto/v4"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/singleflight"

	"github.com/foliograph/foliograph/internal/catalog"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/store"
)

// compressThreshold is the payload-size cutoff above which entries are
// zstd-compressed before the KV write (SPEC_FULL.md section 4.4).
const compressThreshold = 4096

// zstdMagic prefixes a compressed payload so Get can tell compressed entries
// from plain ones without a second KV column.
var zstdMagic = []byte("zstd1:")

// Fetcher produces a fresh value for a cache miss. It returns the payload to
// store along with the provenance metadata the entry should carry.
type Fetcher func(ctx context.Context) (payload []byte, provider catalog.ProviderID, quality int, err error)

// Cache is the interface C5 (enrichment) and C7/C8 (job pipelines) consume.
type Cache interface {
	Get(ctx context.Context, key string) (catalog.CacheEntry, bool)
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) (catalog.CacheEntry, error)
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration, provider catalog.ProviderID, quality int) error
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// TwoTierCache is the production Cache.
type TwoTierCache struct {
	edge  *gocache.Cache[[]byte]
	kv    store.Store
	group singleflight.Group
	zstd  *zstd.Encoder
	unz   *zstd.Decoder
}

// New builds a TwoTierCache with a ristretto-backed edge tier of the given
// approximate byte capacity, wrapping kv as the distributed tier.
func New(kv store.Store, edgeMaxBytes int64) (*TwoTierCache, error) {
	ristrettoCache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: edgeMaxBytes / 100 * 10,
		MaxCost:     edgeMaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: building ristretto: %w", err)
	}
	edgeStore := ristrettostore.NewRistretto(ristrettoCache)
	edge := gocache.New[[]byte](edgeStore)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("cache: building zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("cache: building zstd decoder: %w", err)
	}

	return &TwoTierCache{edge: edge, kv: kv, zstd: enc, unz: dec}, nil
}

// entryEnvelope is what actually gets stored in both tiers, encoded with
// bytedance/sonic.
type entryEnvelope struct {
	Payload    []byte             `json:"payload"`
	CachedAt   time.Time          `json:"cachedAt"`
	TTLSeconds int                `json:"ttlSeconds"`
	Provider   catalog.ProviderID `json:"provider"`
	Quality    int                `json:"quality"`
}

// Get reads key from the edge tier first, falling back to the KV tier on
// miss (spec.md section 4.4: edge for <=10ms reads, KV for <=50ms reads).
func (c *TwoTierCache) Get(ctx context.Context, key string) (catalog.CacheEntry, bool) {
	if raw, err := c.edge.Get(ctx, key); err == nil {
		if entry, ok := c.decode(raw, "edge"); ok {
			return entry, true
		}
	}

	raw, err := c.kv.Get(ctx, key)
	if err != nil {
		return catalog.CacheEntry{}, false
	}
	entry, ok := c.decode(raw, "kv")
	if !ok {
		return catalog.CacheEntry{}, false
	}

	// Best-effort edge population; the response path must not wait on it.
	go c.putEdge(key, raw, entry.TTLSeconds)
	return entry, true
}

// GetOrFetch guarantees at-most-one concurrent fetch per key per process via
// singleflight, matching Controller.group in the teacher's
// internal/controller.go.
func (c *TwoTierCache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch Fetcher) (catalog.CacheEntry, error) {
	if entry, ok := c.Get(ctx, key); ok {
		return entry, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		payload, provider, quality, err := fetch(ctx)
		if err != nil {
			return catalog.CacheEntry{}, err
		}
		if putErr := c.Put(ctx, key, payload, ttl, provider, quality); putErr != nil {
			logging.Log(ctx).Warn("cache put failed, proceeding uncached", "key", key, "err", putErr)
		}
		return catalog.CacheEntry{Payload: payload, CachedAt: time.Now(), TTLSeconds: int(ttl.Seconds()), Provider: provider, Quality: quality}, nil
	})
	if err != nil {
		return catalog.CacheEntry{}, err
	}
	return v.(catalog.CacheEntry), nil
}

// Put writes payload through to the KV tier synchronously and schedules a
// best-effort edge write, per spec.md section 4.4 ("writes always go to the
// KV tier; edge writes are best-effort").
func (c *TwoTierCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration, provider catalog.ProviderID, quality int) error {
	entry := entryEnvelope{Payload: payload, CachedAt: time.Now(), TTLSeconds: int(ttl.Seconds()), Provider: provider, Quality: quality}
	raw, err := c.encode(entry)
	if err != nil {
		return fmt.Errorf("cache: encoding entry: %w", err)
	}

	if err := c.kv.Put(ctx, key, raw, int(ttl.Seconds())); err != nil {
		return fmt.Errorf("cache: kv put: %w", err)
	}

	go c.putEdge(key, raw, int(ttl.Seconds()))
	return nil
}

func (c *TwoTierCache) putEdge(key string, raw []byte, ttlSeconds int) {
	ctx := context.Background()
	_ = c.edge.Set(ctx, key, raw, gostore.WithExpiration(time.Duration(ttlSeconds)*time.Second))
}

func (c *TwoTierCache) Delete(ctx context.Context, key string) error {
	_ = c.edge.Delete(ctx, key)
	return c.kv.Delete(ctx, key)
}

func (c *TwoTierCache) DeleteByPrefix(ctx context.Context, prefix string) error {
	_ = c.edge.Clear(ctx)
	return c.kv.DeleteByPrefix(ctx, prefix)
}

// encode compresses payload above compressThreshold bytes, then serializes
// the envelope with sonic, per SPEC_FULL.md section 4.4.
func (c *TwoTierCache) encode(entry entryEnvelope) ([]byte, error) {
	if len(entry.Payload) > compressThreshold {
		entry.Payload = append(append([]byte{}, zstdMagic...), c.zstd.EncodeAll(entry.Payload, nil)...)
	}
	return sonic.ConfigStd.Marshal(entry)
}

func (c *TwoTierCache) decode(raw []byte, tier string) (catalog.CacheEntry, bool) {
	var envelope entryEnvelope
	if err := sonic.ConfigStd.Unmarshal(raw, &envelope); err != nil {
		return catalog.CacheEntry{}, false
	}

	payload := envelope.Payload
	if bytes.HasPrefix(payload, zstdMagic) {
		decompressed, err := c.unz.DecodeAll(payload[len(zstdMagic):], nil)
		if err != nil {
			return catalog.CacheEntry{}, false
		}
		payload = decompressed
	}

	return catalog.CacheEntry{
		Payload:     payload,
		CachedAt:    envelope.CachedAt,
		TTLSeconds:  envelope.TTLSeconds,
		Provider:    envelope.Provider,
		Quality:     envelope.Quality,
		CacheSource: tier,
	}, true
}
