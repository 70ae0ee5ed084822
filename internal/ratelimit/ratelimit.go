// Package ratelimit implements the per-key fixed-window rate limiter (C6):
// a sharded, atomic check-and-increment counter guaranteeing exactly N
// admits per window even under concurrent arrival, failing open on
// substrate errors. Adapted from the teacher's persistence pattern in
// internal/persist.go, generalized from a cache row to a counter row.
package ratelimit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/foliograph/foliograph/internal/config"
	"github.com/foliograph/foliograph/internal/logging"
	"github.com/foliograph/foliograph/internal/store"
)

// Decision is the result of one checkAndIncrement call, per spec.md
// section 4.6.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// windowState is the persisted shape of one key's counter.
type windowState struct {
	Count          int       `json:"count"`
	WindowStartAt  time.Time `json:"windowStartAt"`
	WindowExpiresAt time.Time `json:"windowExpiresAt"`
}

// Limiter is the C6 actor registry: one single-writer shard per key, keyed
// typically by client IP. Every key's counter is serialized through a
// per-key mutex so 100 concurrent requests to one key admit exactly
// min(100, MaxRequests).
type Limiter struct {
	cfg   config.CoreConfig
	store store.Store
	clock config.Clock

	mu     sync.Mutex
	shards map[string]*sync.Mutex
}

// New builds a Limiter persisting counters in st.
func New(cfg config.CoreConfig, st store.Store, clock config.Clock) *Limiter {
	return &Limiter{cfg: cfg, store: st, clock: clock, shards: map[string]*sync.Mutex{}}
}

func (l *Limiter) shardFor(key string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.shards[key]
	if !ok {
		m = &sync.Mutex{}
		l.shards[key] = m
	}
	return m
}

func stateKey(key string) string { return "ratelimit:" + key }

// CheckAndIncrement implements spec.md section 4.6's algorithm: load,
// reset-if-expired, admit-if-under-limit-and-increment, else deny without
// incrementing. The per-key mutex makes this atomic regardless of how many
// goroutines call it concurrently for the same key.
func (l *Limiter) CheckAndIncrement(ctx context.Context, key string) (Decision, error) {
	shard := l.shardFor(key)
	shard.Lock()
	defer shard.Unlock()

	now := l.clock.Now()
	sk := stateKey(key)

	var st windowState
	raw, err := l.store.Get(ctx, sk)
	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &st); jsonErr != nil {
			st = windowState{}
		}
	case err == store.ErrNotFound:
		// Missing state: treat as a fresh window below.
	default:
		return Decision{}, err
	}

	if st.WindowExpiresAt.IsZero() || !now.Before(st.WindowExpiresAt) {
		st = windowState{Count: 0, WindowStartAt: now, WindowExpiresAt: now.Add(l.cfg.RateWindow)}
	}

	if st.Count >= l.cfg.RateMaxRequests {
		return Decision{Allowed: false, Remaining: 0, ResetAt: st.WindowExpiresAt}, nil
	}

	st.Count++
	payload, err := json.Marshal(st)
	if err != nil {
		return Decision{}, err
	}
	ttl := int(st.WindowExpiresAt.Sub(now).Seconds()) + 1
	if err := l.store.Put(ctx, sk, payload, ttl); err != nil {
		return Decision{}, err
	}

	remaining := l.cfg.RateMaxRequests - st.Count
	return Decision{Allowed: true, Remaining: remaining, ResetAt: st.WindowExpiresAt}, nil
}

// Allow is the fail-open entry point middleware should call: on any
// substrate error it logs and admits the request, matching spec.md section
// 4.6/7 ("availability trumps strict enforcement").
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	d, err := l.CheckAndIncrement(ctx, key)
	if err != nil {
		logging.Log(ctx).Warn("rate limiter substrate error, failing open", "key", key, "err", err)
		return Decision{Allowed: true, Remaining: l.cfg.RateMaxRequests, ResetAt: l.clock.Now().Add(l.cfg.RateWindow)}
	}
	return d
}
