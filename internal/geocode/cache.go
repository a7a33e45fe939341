package geocode

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Cached wraps a Provider with a small TTL cache keyed by rounded
// coordinates or normalized query text.
type Cached struct {
	next Provider
	ttl  time.Duration

	mu      sync.RWMutex
	reverse map[string]cacheEntry[Address]
	search  map[string]cacheEntry[[]Candidate]
}

type cacheEntry[T any] struct {
	v  T
	ts time.Time
}

func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{
		next:    next,
		ttl:     ttl,
		reverse: make(map[string]cacheEntry[Address]),
		search:  make(map[string]cacheEntry[[]Candidate]),
	}
}

// coordKey rounds to ~11m so clicks on the same spot share an entry.
func coordKey(lat, lon float64) string { return fmt.Sprintf("%.4f,%.4f", lat, lon) }

func (c *Cached) ReverseGeocode(ctx context.Context, lat, lon float64) (Address, error) {
	k := coordKey(lat, lon)
	if v, ok := lookup(c, c.reverse, k); ok {
		return v, nil
	}
	a, err := c.next.ReverseGeocode(ctx, lat, lon)
	if err != nil {
		return Address{}, err
	}
	store(c, c.reverse, k, a)
	return a, nil
}

func (c *Cached) SearchPlaces(ctx context.Context, query string) ([]Candidate, error) {
	k := strings.ToLower(strings.TrimSpace(query))
	if v, ok := lookup(c, c.search, k); ok {
		return v, nil
	}
	res, err := c.next.SearchPlaces(ctx, query)
	if err != nil {
		return nil, err
	}
	store(c, c.search, k, res)
	return res, nil
}

func lookup[T any](c *Cached, m map[string]cacheEntry[T], k string) (T, bool) {
	c.mu.RLock()
	e, ok := m[k]
	c.mu.RUnlock()
	var zero T
	if !ok {
		return zero, false
	}
	if time.Since(e.ts) > c.ttl {
		expire(c, m, k, e.ts)
		return zero, false
	}
	return e.v, true
}

// expire drops k only if it still holds the entry stamped seen; a concurrent
// store may have refreshed it since the read lock was released.
func expire[T any](c *Cached, m map[string]cacheEntry[T], k string, seen time.Time) {
	c.mu.Lock()
	if cur, ok := m[k]; ok && cur.ts.Equal(seen) {
		delete(m, k)
	}
	c.mu.Unlock()
}

func store[T any](c *Cached, m map[string]cacheEntry[T], k string, v T) {
	c.mu.Lock()
	m[k] = cacheEntry[T]{v: v, ts: time.Now()}
	c.mu.Unlock()
}
