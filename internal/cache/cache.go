// Package cache holds per-user ride lists so dashboards do not hit the store
// on every read. After a transition only the changed ride is replaced.
package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/taxi-booking/internal/models"
)

type RideCache interface {
	// List returns the cached rides for userID newest first. ok is false on a miss.
	List(ctx context.Context, userID string) (rides []models.Ride, ok bool, err error)
	// Epoch reports the user's list generation. Replace and Invalidate move
	// it forward whether or not the list is cached.
	Epoch(ctx context.Context, userID string) (uint64, error)
	// Put stores rides for userID only if the epoch is still the one read
	// before the rides were loaded. A skipped write is not an error.
	Put(ctx context.Context, userID string, rides []models.Ride, epoch uint64) error
	// Replace upserts r into the cached lists of its customer and driver.
	// Lists that are not cached stay uncached.
	Replace(ctx context.Context, r models.Ride) error
	Invalidate(ctx context.Context, userID string) error
}

// Memory is an in-process RideCache with a per-list TTL.
type Memory struct {
	mu     sync.RWMutex
	ttl    time.Duration
	lists  map[string]entry
	epochs map[string]uint64
}

type entry struct {
	rides map[int64]models.Ride
	ts    time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, lists: make(map[string]entry), epochs: make(map[string]uint64)}
}

func (m *Memory) List(_ context.Context, userID string) ([]models.Ride, bool, error) {
	m.mu.RLock()
	e, ok := m.lists[userID]
	if !ok {
		m.mu.RUnlock()
		return nil, false, nil
	}
	if m.ttl > 0 && time.Since(e.ts) > m.ttl {
		m.mu.RUnlock()
		m.expire(userID, e.ts)
		return nil, false, nil
	}
	// Replace writes into e.rides under the write lock
	out := make([]models.Ride, 0, len(e.rides))
	for _, r := range e.rides {
		out = append(out, r)
	}
	m.mu.RUnlock()
	SortNewestFirst(out)
	return out, true, nil
}

// expire drops userID's list only if it is still the one stamped seen.
func (m *Memory) expire(userID string, seen time.Time) {
	m.mu.Lock()
	if cur, ok := m.lists[userID]; ok && cur.ts.Equal(seen) {
		delete(m.lists, userID)
	}
	m.mu.Unlock()
}

func (m *Memory) Epoch(_ context.Context, userID string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epochs[userID], nil
}

func (m *Memory) Put(_ context.Context, userID string, rides []models.Ride, epoch uint64) error {
	e := entry{rides: make(map[int64]models.Ride, len(rides)), ts: time.Now()}
	for _, r := range rides {
		e.rides[r.ID] = r
	}
	m.mu.Lock()
	if m.epochs[userID] == epoch {
		m.lists[userID] = e
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Replace(_ context.Context, r models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range owners(r) {
		m.epochs[id]++
		if e, ok := m.lists[id]; ok {
			e.rides[r.ID] = r
		}
	}
	return nil
}

func (m *Memory) Invalidate(_ context.Context, userID string) error {
	m.mu.Lock()
	m.epochs[userID]++
	delete(m.lists, userID)
	m.mu.Unlock()
	return nil
}

// SortNewestFirst orders rides the way the store lists them.
func SortNewestFirst(rides []models.Ride) {
	sort.Slice(rides, func(i, j int) bool {
		if !rides[i].CreatedAt.Equal(rides[j].CreatedAt) {
			return rides[i].CreatedAt.After(rides[j].CreatedAt)
		}
		return rides[i].ID > rides[j].ID
	})
}

func owners(r models.Ride) []string {
	if r.CustomerID == r.DriverID {
		return []string{r.CustomerID}
	}
	return []string{r.CustomerID, r.DriverID}
}

// Nop never caches anything.
type Nop struct{}

func (Nop) List(context.Context, string) ([]models.Ride, bool, error) { return nil, false, nil }
func (Nop) Epoch(context.Context, string) (uint64, error)             { return 0, nil }
func (Nop) Put(context.Context, string, []models.Ride, uint64) error  { return nil }
func (Nop) Replace(context.Context, models.Ride) error                { return nil }
func (Nop) Invalidate(context.Context, string) error                  { return nil }
