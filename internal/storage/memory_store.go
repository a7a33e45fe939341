package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/taxi-booking/internal/aggregate"
	"github.com/example/taxi-booking/internal/models"
)

// MemoryStore keeps rides and profiles in process. It backs local runs
// without PG_DSN and the tests.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	rides    map[int64]models.Ride
	profiles map[string]models.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:    make(map[int64]models.Ride),
		profiles: make(map[string]models.Profile),
	}
}

func (m *MemoryStore) InsertRide(_ context.Context, r models.Ride) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	m.rides[r.ID] = r
	return r, nil
}

func (m *MemoryStore) GetRide(_ context.Context, id int64) (models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return models.Ride{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, f RideFilter, p RidePatch) (models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rides[f.ID]
	if !ok || !f.matches(r) {
		return models.Ride{}, ErrNotFound
	}
	p.apply(&r)
	m.rides[r.ID] = r
	return r, nil
}

func (m *MemoryStore) ListRidesByDriver(_ context.Context, driverID string) ([]models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.DriverID == driverID }), nil
}

func (m *MemoryStore) ListRidesByCustomer(_ context.Context, customerID string) ([]models.Ride, error) {
	return m.list(func(r models.Ride) bool { return r.CustomerID == customerID }), nil
}

// list returns matching rides newest first.
func (m *MemoryStore) list(keep func(models.Ride) bool) []models.Ride {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Ride, 0)
	for _, r := range m.rides {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return models.Profile{}, ErrNotFound
	}
	return p, nil
}

func (m *MemoryStore) EnsureProfile(_ context.Context, id, fullName string) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		p = models.Profile{ID: id, CreatedAt: time.Now().UTC()}
	}
	if p.FullName == "" {
		p.FullName = fullName
	}
	m.profiles[id] = p
	return p, nil
}

func (m *MemoryStore) UpdateProfile(_ context.Context, f ProfileFilter, patch ProfilePatch) (models.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[f.ID]
	if !ok || !f.matches(p) {
		return models.Profile{}, ErrNotFound
	}
	patch.apply(&p)
	m.profiles[p.ID] = p
	return p, nil
}

// PutProfile seeds or replaces a profile, including the admin-owned
// verification flag.
func (m *MemoryStore) PutProfile(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.profiles[p.ID] = p
}

// RecommendedDrivers mirrors get_recommended_drivers: available drivers
// other than the caller, verified first, then by average rating and rated
// ride count.
func (m *MemoryStore) RecommendedDrivers(_ context.Context, customerID string) ([]models.RecommendedDriver, error) {
	m.mu.RLock()
	byDriver := make(map[string][]models.Ride)
	for _, r := range m.rides {
		if r.Status == models.RideCompleted {
			byDriver[r.DriverID] = append(byDriver[r.DriverID], r)
		}
	}
	out := make([]models.RecommendedDriver, 0)
	for _, p := range m.profiles {
		if p.Role != models.RoleDriver || !p.IsAvailable || p.ID == customerID {
			continue
		}
		stats := aggregate.Ratings(byDriver[p.ID])
		out = append(out, models.RecommendedDriver{
			ID:            p.ID,
			FullName:      p.FullName,
			AverageRating: stats.Average,
			RideCount:     stats.Count,
			IsVerified:    p.IsVerified,
			ImageURL:      p.ImageURL,
		})
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.IsVerified != b.IsVerified {
			return a.IsVerified
		}
		if a.AverageRating != b.AverageRating {
			return a.AverageRating > b.AverageRating
		}
		if a.RideCount != b.RideCount {
			return a.RideCount > b.RideCount
		}
		return a.ID < b.ID
	})
	return out, nil
}
