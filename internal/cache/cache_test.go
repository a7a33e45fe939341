package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/taxi-booking/internal/models"
)

func TestMemoryMissThenHit(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	if _, ok, _ := c.List(ctx, "c1"); ok {
		t.Fatal("expected miss on empty cache")
	}
	_ = c.Put(ctx, "c1", nil, 0)
	rides, ok, _ := c.List(ctx, "c1")
	if !ok || len(rides) != 0 {
		t.Fatalf("expected cached empty list, got ok=%v rides=%v", ok, rides)
	}
}

func TestMemoryReplaceOnlyTouchesCachedLists(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r1 := models.Ride{ID: 1, CustomerID: "c1", DriverID: "d1", Status: models.RideBooked, CreatedAt: base}
	r2 := models.Ride{ID: 2, CustomerID: "c1", DriverID: "d1", Status: models.RideBooked, CreatedAt: base.Add(time.Minute)}
	_ = c.Put(ctx, "c1", []models.Ride{r1, r2}, 0)

	r1.Status = models.RideCompleted
	_ = c.Replace(ctx, r1)

	rides, ok, _ := c.List(ctx, "c1")
	if !ok || len(rides) != 2 {
		t.Fatalf("unexpected list: ok=%v %+v", ok, rides)
	}
	if rides[0].ID != 2 || rides[1].Status != models.RideCompleted {
		t.Fatalf("replace not applied in order: %+v", rides)
	}
	if _, ok, _ := c.List(ctx, "d1"); ok {
		t.Fatal("driver list must stay uncached")
	}
}

func TestMemoryReplaceAddsNewRide(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(0)
	_ = c.Put(ctx, "d1", nil, 0)
	_ = c.Replace(ctx, models.Ride{ID: 7, CustomerID: "c1", DriverID: "d1"})
	rides, _, _ := c.List(ctx, "d1")
	if len(rides) != 1 || rides[0].ID != 7 {
		t.Fatalf("expected new ride in driver list, got %+v", rides)
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Millisecond)
	_ = c.Put(ctx, "c1", []models.Ride{{ID: 1}}, 0)
	time.Sleep(5 * time.Millisecond)
	if _, ok, _ := c.List(ctx, "c1"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestMemoryInvalidate(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	_ = c.Put(ctx, "c1", []models.Ride{{ID: 1}}, 0)
	_ = c.Invalidate(ctx, "c1")
	if _, ok, _ := c.List(ctx, "c1"); ok {
		t.Fatal("expected miss after invalidate")
	}
}

func TestMemoryListConcurrentWithReplace(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	_ = c.Put(ctx, "c1", []models.Ride{{ID: 1, CustomerID: "c1", DriverID: "d1"}}, 0)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, ok, _ := c.List(ctx, "c1"); !ok {
				t.Error("cached list went missing")
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = c.Replace(ctx, models.Ride{ID: int64(100 + i), CustomerID: "c1", DriverID: "d1"})
		}
	}()
	wg.Wait()

	rides, _, _ := c.List(ctx, "c1")
	if len(rides) != 501 {
		t.Fatalf("expected 501 rides after replaces, got %d", len(rides))
	}
}

func TestMemoryPutSkipsWhenEpochMoved(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	epoch, _ := c.Epoch(ctx, "c1")

	// a transition lands while the caller is still reading the store
	_ = c.Replace(ctx, models.Ride{ID: 1, CustomerID: "c1", DriverID: "d1", Status: models.RideCompleted})
	if _, ok, _ := c.List(ctx, "c1"); ok {
		t.Fatal("replace must not create an uncached list")
	}

	_ = c.Put(ctx, "c1", []models.Ride{{ID: 1, CustomerID: "c1", DriverID: "d1", Status: models.RideBooked}}, epoch)
	if _, ok, _ := c.List(ctx, "c1"); ok {
		t.Fatal("stale put must be dropped")
	}

	epoch, _ = c.Epoch(ctx, "c1")
	_ = c.Put(ctx, "c1", []models.Ride{{ID: 1, CustomerID: "c1", DriverID: "d1", Status: models.RideCompleted}}, epoch)
	rides, ok, _ := c.List(ctx, "c1")
	if !ok || rides[0].Status != models.RideCompleted {
		t.Fatalf("expected fresh put to be cached, got ok=%v %+v", ok, rides)
	}
}

func TestMemoryInvalidateMovesEpoch(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	before, _ := c.Epoch(ctx, "c1")
	_ = c.Invalidate(ctx, "c1")
	after, _ := c.Epoch(ctx, "c1")
	if after == before {
		t.Fatal("invalidate must move the epoch")
	}
}

func TestMemoryExpireKeepsRefreshedList(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(time.Minute)
	_ = c.Put(ctx, "c1", []models.Ride{{ID: 1}}, 0)
	seen := c.lists["c1"].ts

	// refreshed by another request after this one saw the old stamp
	time.Sleep(time.Millisecond)
	_ = c.Put(ctx, "c1", []models.Ride{{ID: 2}}, 0)
	c.expire("c1", seen)

	rides, ok, _ := c.List(ctx, "c1")
	if !ok || len(rides) != 1 || rides[0].ID != 2 {
		t.Fatalf("refreshed list evicted: ok=%v %+v", ok, rides)
	}
	c.expire("c1", c.lists["c1"].ts)
	if _, ok, _ := c.List(ctx, "c1"); ok {
		t.Fatal("expected list with matching stamp to be dropped")
	}
}
