// Package cache implements the correlation cache: a content-addressed store
// of threat reports keyed by normalized IOC, with TTL expiry and at-most-one
// concurrent computation per key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/hive-corporation/threatscope/internal/core/domain"
)

// ErrCacheMiss signals that a key was not found or had expired.
var ErrCacheMiss = errors.New("cache miss")

// Store is the backing key-value store for serialized reports. Entries carry
// their own expiry timestamp; implementations may additionally use native
// TTLs, but the Cache never relies on them.
type Store interface {
	Get(ctx context.Context, key string) (*domain.ThreatReport, error)
	Set(ctx context.Context, key string, report *domain.ThreatReport, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits         uint64 `json:"hits"`
	Misses       uint64 `json:"misses"`
	Computations uint64 `json:"computations"`
	Failures     uint64 `json:"failures"`
}

// Cache wraps a Store with per-key single-flight computation. Mutual
// exclusion is scoped to the key, never global, so unrelated indicators are
// not serialized behind each other.
type Cache struct {
	store Store
	group singleflight.Group
	log   *logrus.Logger

	hits         atomic.Uint64
	misses       atomic.Uint64
	computations atomic.Uint64
	failures     atomic.Uint64
}

func New(store Store, log *logrus.Logger) *Cache {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cache{store: store, log: log}
}

// GetOrCompute returns the cached report for key, or runs compute under a
// per-key single-flight token. Callers arriving while a computation for the
// same key is in flight wait for its result instead of recomputing.
//
// The computation is detached from the first caller's cancellation: a caller
// that gives up gets its context error, but the flight concludes and serves
// every remaining waiter. Failed computations are propagated to all current
// waiters and never cached, so the next caller retries fresh.
//
// The boolean result reports whether the value came from the store.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute func(context.Context) (*domain.ThreatReport, error)) (*domain.ThreatReport, bool, error) {
	if report, err := c.lookup(ctx, key); err == nil {
		c.hits.Add(1)
		return report, true, nil
	}
	c.misses.Add(1)

	bgctx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another flight may have stored the report between our miss and
		// acquiring the token.
		if report, err := c.lookup(bgctx, key); err == nil {
			return report, nil
		}

		report, err := compute(bgctx)
		if err != nil {
			c.failures.Add(1)
			return nil, fmt.Errorf("compute %s: %w", key, err)
		}

		report.TTLExpiresAt = time.Now().UTC().Add(ttl)
		if err := c.store.Set(bgctx, key, report, ttl); err != nil {
			// A store outage degrades caching, not correctness.
			c.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("⚠️  failed to store report in cache")
		}
		c.computations.Add(1)
		return report, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		return res.Val.(*domain.ThreatReport), false, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// lookup fetches and validates a stored report, enforcing the report's own
// expiry timestamp regardless of the store's native TTL behaviour.
func (c *Cache) lookup(ctx context.Context, key string) (*domain.ThreatReport, error) {
	report, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.log.WithFields(logrus.Fields{"key": key, "error": err}).Warn("⚠️  cache read failed")
		}
		return nil, ErrCacheMiss
	}
	if report.Expired(time.Now().UTC()) {
		_ = c.store.Delete(ctx, key)
		return nil, ErrCacheMiss
	}
	return report, nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Failures:     c.failures.Load(),
	}
}

// Close releases the backing store.
func (c *Cache) Close() error {
	return c.store.Close()
}
