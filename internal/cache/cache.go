// Package cache memoizes expensive provider results (embeddings, search
// responses) in a bounded LRU with per-entry TTL. Concurrent misses for the same
// key share one computation.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dshills/codecontext/internal/clock"
	"github.com/dshills/codecontext/pkg/types"
)

var (
	// ErrComputeFailed wraps the error of a failed computation. The failure is
	// returned to every waiter and never stored.
	ErrComputeFailed = errors.New("cache compute failed")

	ErrInvalidCapacity = errors.New("cache capacity must be positive")
)

// DefaultComputeTimeout bounds a shared computation when Config sets none.
const DefaultComputeTimeout = 30 * time.Second

// Config bounds the cache.
type Config struct {
	MaxCapacity int
	TTL         time.Duration // zero means entries never expire
	// ComputeTimeout bounds a computation. It runs detached from the caller
	// that started it, so one waiter giving up does not fail the others.
	ComputeTimeout time.Duration
}

// ComputeFunc produces the value for a missing key.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// RemoteStore is an optional shared second tier consulted on local misses.
type RemoteStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

type entry struct {
	value      []byte
	insertedAt time.Time
	ttl        time.Duration
}

// flight tracks one in-flight computation. stale is set when the key is
// invalidated or the cache cleared while it runs.
type flight struct {
	stale bool
}

func (e *entry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.insertedAt) >= e.ttl
}

// Stats reports cache effectiveness.
type Stats struct {
	Hits       uint64  `json:"hits"`
	Misses     uint64  `json:"misses"`
	Computes   uint64  `json:"computes"`
	Evictions  uint64  `json:"evictions"`
	RemoteHits uint64  `json:"remote_hits"`
	Entries    int     `json:"entries"`
	HitRatio   float64 `json:"hit_ratio"`
}

// Cache is safe for concurrent use.
type Cache struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.Logger
	remote RemoteStore

	entries *lru.Cache[string, *entry]
	group   singleflight.Group

	mu       sync.Mutex // guards inflight and orders stores against invalidation
	inflight map[string]*flight

	hits       atomic.Uint64
	misses     atomic.Uint64
	computes   atomic.Uint64
	evictions  atomic.Uint64
	remoteHits atomic.Uint64
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock sets the time source used for TTL checks.
func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = clock.OrReal(c) }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(cache *Cache) {
		if l != nil {
			cache.logger = l
		}
	}
}

// WithRemote adds a shared second tier.
func WithRemote(r RemoteStore) Option {
	return func(cache *Cache) { cache.remote = r }
}

// New creates a cache. MaxCapacity must be positive.
func New(cfg Config, opts ...Option) (*Cache, error) {
	if cfg.MaxCapacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	if cfg.ComputeTimeout <= 0 {
		cfg.ComputeTimeout = DefaultComputeTimeout
	}
	entries, err := lru.New[string, *entry](cfg.MaxCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU: %w", err)
	}
	c := &Cache{
		cfg:      cfg,
		clock:    clock.Real(),
		logger:   zap.NewNop(),
		entries:  entries,
		inflight: make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns a copy of a live entry.
func (c *Cache) Get(key string) ([]byte, bool) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return clone(v), true
	}
	c.misses.Add(1)
	return nil, false
}

func (c *Cache) lookup(key string) ([]byte, bool) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.expired(c.clock.Now()) {
		c.entries.Remove(key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, value []byte) {
	e := &entry{value: value, insertedAt: c.clock.Now(), ttl: c.cfg.TTL}
	if c.entries.Add(key, e) {
		c.evictions.Add(1)
	}
}

// GetOrCompute returns the cached value for key or runs compute once for all
// concurrent callers that miss. A failed computation is not cached and is
// returned to every waiter wrapped in ErrComputeFailed.
//
// compute runs with the values of ctx but not its cancellation, bounded by
// Config.ComputeTimeout. Each caller stops waiting when its own ctx is done.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return clone(v), nil
	}
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		f := c.begin(key)
		defer c.end(key, f)

		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		cctx, cancel := context.WithTimeout(detached, c.cfg.ComputeTimeout)
		defer cancel()

		if c.remote != nil {
			v, found, err := c.remote.Get(cctx, key)
			if err != nil {
				c.logger.Warn("remote cache get failed", zap.String("key", key), zap.Error(err))
			} else if found {
				c.remoteHits.Add(1)
				c.storeFresh(key, f, v)
				return v, nil
			}
		}

		c.computes.Add(1)
		v, err := compute(cctx)
		if err != nil {
			return nil, err
		}

		if c.storeFresh(key, f, v) && c.remote != nil {
			if err := c.remote.Set(cctx, key, v, c.cfg.TTL); err != nil {
				c.logger.Warn("remote cache set failed", zap.String("key", key), zap.Error(err))
			}
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrComputeFailed, res.Err)
		}
		return clone(res.Val.([]byte)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) begin(key string) *flight {
	f := &flight{}
	c.mu.Lock()
	c.inflight[key] = f
	c.mu.Unlock()
	return f
}

func (c *Cache) end(key string, f *flight) {
	c.mu.Lock()
	if c.inflight[key] == f {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
}

// storeFresh stores v unless its flight went stale while computing.
func (c *Cache) storeFresh(key string, f *flight, v []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.stale {
		return false
	}
	c.store(key, v)
	return true
}

// Invalidate removes key locally and from the remote tier. A computation for
// key already in flight will not store its result, and later callers do not
// join it.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	if f, ok := c.inflight[key]; ok {
		f.stale = true
		delete(c.inflight, key)
	}
	c.group.Forget(key)
	c.entries.Remove(key)
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to invalidate remote entry: %w", err)
		}
	}
	return nil
}

// Clear drops every entry locally and remotely. In-flight computations are
// detached as with Invalidate.
func (c *Cache) Clear(ctx context.Context) error {
	c.mu.Lock()
	for key, f := range c.inflight {
		f.stale = true
		c.group.Forget(key)
	}
	clear(c.inflight)
	c.entries.Purge()
	c.mu.Unlock()

	if c.remote != nil {
		if err := c.remote.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear remote cache: %w", err)
		}
	}
	return nil
}

// Len returns the number of local entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int { return c.entries.Len() }

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	s := Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		Computes:   c.computes.Load(),
		Evictions:  c.evictions.Load(),
		RemoteHits: c.remoteHits.Load(),
		Entries:    c.entries.Len(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRatio = float64(s.Hits) / float64(total)
	}
	return s
}

// GetOrComputeVector is GetOrCompute for embeddings.
func (c *Cache) GetOrComputeVector(ctx context.Context, key string, compute func(ctx context.Context) ([]float32, error)) ([]float32, error) {
	data, err := c.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
		vec, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		return types.EncodeVector(vec), nil
	})
	if err != nil {
		return nil, err
	}
	return types.DecodeVector(data)
}

// Fingerprint derives a cache key from its parts.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
