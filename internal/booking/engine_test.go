package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/taxi-booking/internal/auth"
	"github.com/example/taxi-booking/internal/blob"
	"github.com/example/taxi-booking/internal/cache"
	"github.com/example/taxi-booking/internal/events"
	"github.com/example/taxi-booking/internal/models"
	"github.com/example/taxi-booking/internal/retry"
	"github.com/example/taxi-booking/internal/storage"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.RideEvent
}

func (r *recordingPublisher) Publish(_ context.Context, e events.RideEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

// failingUpdates fails every ride update.
type failingUpdates struct {
	*storage.MemoryStore
	err error
}

func (f failingUpdates) UpdateRide(context.Context, storage.RideFilter, storage.RidePatch) (models.Ride, error) {
	return models.Ride{}, f.err
}

// flakyReads fails the first n GetRide calls.
type flakyReads struct {
	*storage.MemoryStore
	mu    sync.Mutex
	fails int
	calls int
}

func (f *flakyReads) GetRide(ctx context.Context, id int64) (models.Ride, error) {
	f.mu.Lock()
	f.calls++
	fail := f.calls <= f.fails
	f.mu.Unlock()
	if fail {
		return models.Ride{}, errors.New("connection reset")
	}
	return f.MemoryStore.GetRide(ctx, id)
}

// writeDuringList runs during once the customer's rows have been read, so a
// transition commits between the store read and the cache fill.
type writeDuringList struct {
	*storage.MemoryStore
	during func()
}

func (w *writeDuringList) ListRidesByCustomer(ctx context.Context, id string) ([]models.Ride, error) {
	rides, err := w.MemoryStore.ListRidesByCustomer(ctx, id)
	if w.during != nil {
		run := w.during
		w.during = nil
		run()
	}
	return rides, err
}

type fixedRecommender []models.RecommendedDriver

func (f fixedRecommender) RecommendedDrivers(context.Context, string) ([]models.RecommendedDriver, error) {
	return append([]models.RecommendedDriver(nil), f...), nil
}

var (
	driver   = models.Profile{ID: "d1", FullName: "Dana", Role: models.RoleDriver, IsAvailable: true}
	customer = models.Profile{ID: "c1", FullName: "Chris", Role: models.RoleCustomer}
)

func session(p models.Profile) auth.Session { return auth.Session{UserID: p.ID, Profile: p} }

type fixture struct {
	store  *storage.MemoryStore
	cache  *cache.Memory
	events *recordingPublisher
	blobs  *blob.Memory
	engine *Engine
}

func newFixture(t *testing.T, rides storage.RideStore) *fixture {
	t.Helper()
	f := &fixture{
		store:  storage.NewMemoryStore(),
		cache:  cache.NewMemory(time.Minute),
		events: &recordingPublisher{},
		blobs:  blob.NewMemory("http://blobs.test"),
	}
	f.store.PutProfile(driver)
	f.store.PutProfile(customer)
	f.store.PutProfile(models.Profile{ID: "d2", Role: models.RoleDriver})
	if rides == nil {
		rides = f.store
	}
	f.engine = NewEngine(Deps{
		Rides:       rides,
		Profiles:    f.store,
		Recommender: f.store,
		Cache:       f.cache,
		Events:      f.events,
		Blobs:       f.blobs,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, Options{
		PriceMin:  10,
		PriceMax:  59,
		ReadRetry: retry.Policy{Attempts: 3, Base: time.Millisecond},
		Rand:      func(n int) int { return n - 1 },
		Now:       func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *fixture) book(t *testing.T) models.Ride {
	t.Helper()
	ride, err := f.engine.Book(context.Background(), session(customer), BookRequest{
		DriverID: driver.ID, PickupLocation: "Main St 1", DropoffLocation: "Airport",
	})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	return ride
}

func TestRideLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	ride := f.book(t)
	if ride.Status != models.RideBooked || ride.PaymentStatus != models.PaymentUnpaid {
		t.Fatalf("unexpected booked ride: %+v", ride)
	}
	if ride.Price != 59 {
		t.Fatalf("expected price 59, got %v", ride.Price)
	}
	if ride.Rated() {
		t.Fatal("new ride must be unrated")
	}

	ride, err := f.engine.Complete(ctx, session(driver), ride.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if ride.Status != models.RideCompleted {
		t.Fatalf("expected completed, got %s", ride.Status)
	}

	ride, err = f.engine.Pay(ctx, session(customer), ride.ID)
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if !ride.Paid() || ride.PaymentRef != "dummy_ride-1-payment" {
		t.Fatalf("unexpected paid ride: %+v", ride)
	}

	ride, err = f.engine.Rate(ctx, session(customer), ride.ID, 4, "  smooth ride ")
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if *ride.Rating != 4 || ride.Feedback == nil || *ride.Feedback != "smooth ride" {
		t.Fatalf("unexpected rating: %+v", ride)
	}

	sum, err := f.engine.DriverSummary(ctx, session(driver))
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalEarnings != 59 || sum.Rating.Average != 4 || sum.Rating.Count != 1 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(sum.CompletedRides) != 1 || len(sum.CurrentBookings) != 0 {
		t.Fatalf("unexpected ride split: %+v", sum)
	}

	want := []events.Type{events.RideBooked, events.RideCompleted, events.RidePaid, events.RideRated}
	got := f.events.types()
	if len(got) != len(want) {
		t.Fatalf("events %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events %v, want %v", got, want)
		}
	}
}

func TestBookRejectsMissingLocationBeforeWriting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.engine.Book(ctx, session(customer), BookRequest{DriverID: driver.ID, PickupLocation: "   ", DropoffLocation: "Airport"})
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "pickup_location" {
		t.Fatalf("expected pickup validation error, got %v", err)
	}
	rides, _ := f.store.ListRidesByCustomer(ctx, customer.ID)
	if len(rides) != 0 {
		t.Fatalf("expected no rows, got %d", len(rides))
	}
	if len(f.events.types()) != 0 {
		t.Fatal("no event expected for a rejected booking")
	}
}

func TestBookChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	req := BookRequest{DriverID: driver.ID, PickupLocation: "A", DropoffLocation: "B"}

	var ae *AuthorizationError
	if _, err := f.engine.Book(ctx, session(driver), req); !errors.As(err, &ae) {
		t.Fatalf("driver booking: expected authorization error, got %v", err)
	}

	var ve *ValidationError
	bad := req
	bad.DriverID = customer.ID
	if _, err := f.engine.Book(ctx, session(customer), bad); !errors.As(err, &ve) {
		t.Fatalf("non-driver target: expected validation error, got %v", err)
	}
	bad.DriverID = "ghost"
	if _, err := f.engine.Book(ctx, session(customer), bad); !errors.As(err, &ve) {
		t.Fatalf("unknown driver: expected validation error, got %v", err)
	}

	var pe *PreconditionError
	bad.DriverID = "d2"
	if _, err := f.engine.Book(ctx, session(customer), bad); !errors.As(err, &pe) {
		t.Fatalf("unavailable driver: expected precondition error, got %v", err)
	}

	if _, err := f.engine.Book(ctx, session(models.Profile{ID: "n1"}), req); !errors.Is(err, ErrRoleRequired) {
		t.Fatalf("no role: expected ErrRoleRequired, got %v", err)
	}
}

func TestPriceStaysInRange(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.opts.Rand = func(int) int { return 0 }
	if p := f.engine.price(); p != 10 {
		t.Fatalf("expected 10, got %d", p)
	}
	f.engine.opts.Rand = func(n int) int { return n - 1 }
	if p := f.engine.price(); p != 59 {
		t.Fatalf("expected 59, got %d", p)
	}
}

func TestCompleteOnlyByAssignedDriver(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ride := f.book(t)

	var ae *AuthorizationError
	if _, err := f.engine.Complete(ctx, session(customer), ride.ID); !errors.As(err, &ae) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	other := models.Profile{ID: "d2", Role: models.RoleDriver}
	if _, err := f.engine.Complete(ctx, session(other), ride.ID); !errors.As(err, &ae) {
		t.Fatalf("expected authorization error for other driver, got %v", err)
	}
	if _, err := f.engine.Complete(ctx, session(driver), ride.ID); err != nil {
		t.Fatal(err)
	}
	var pe *PreconditionError
	if _, err := f.engine.Complete(ctx, session(driver), ride.ID); !errors.As(err, &pe) {
		t.Fatalf("second complete: expected precondition error, got %v", err)
	}
	if _, err := f.engine.Complete(ctx, session(driver), 999); !errors.Is(err, ErrRideNotFound) {
		t.Fatalf("expected ErrRideNotFound, got %v", err)
	}
}

func TestPayRequiresCompletedRide(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ride := f.book(t)

	var pe *PreconditionError
	_, err := f.engine.Pay(ctx, session(customer), ride.ID)
	if !errors.As(err, &pe) || !strings.Contains(pe.Required, "not yet completed") {
		t.Fatalf("expected not-completed precondition, got %v", err)
	}
	got, _ := f.store.GetRide(ctx, ride.ID)
	if got.Paid() {
		t.Fatal("ride must stay unpaid")
	}

	_, _ = f.engine.Complete(ctx, session(driver), ride.ID)
	var ae *AuthorizationError
	if _, err := f.engine.Pay(ctx, session(driver), ride.ID); !errors.As(err, &ae) {
		t.Fatalf("driver paying: expected authorization error, got %v", err)
	}
	if _, err := f.engine.Pay(ctx, session(customer), ride.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Pay(ctx, session(customer), ride.ID); !errors.As(err, &pe) {
		t.Fatalf("second pay: expected precondition error, got %v", err)
	}
}

func TestRateValidationAndOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ride := f.book(t)

	var ve *ValidationError
	for _, stars := range []int{0, 6, -1} {
		if _, err := f.engine.Rate(ctx, session(customer), ride.ID, stars, ""); !errors.As(err, &ve) {
			t.Fatalf("stars=%d: expected validation error, got %v", stars, err)
		}
	}
	var pe *PreconditionError
	if _, err := f.engine.Rate(ctx, session(customer), ride.ID, 5, ""); !errors.As(err, &pe) {
		t.Fatalf("rating booked ride: expected precondition error, got %v", err)
	}

	_, _ = f.engine.Complete(ctx, session(driver), ride.ID)
	r, err := f.engine.Rate(ctx, session(customer), ride.ID, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if r.Feedback != nil {
		t.Fatalf("empty feedback must stay unset, got %q", *r.Feedback)
	}
	if _, err := f.engine.Rate(ctx, session(customer), ride.ID, 1, ""); !errors.As(err, &pe) {
		t.Fatalf("second rating: expected precondition error, got %v", err)
	}
	got, _ := f.store.GetRide(ctx, ride.ID)
	if *got.Rating != 5 {
		t.Fatalf("rating overwritten: %d", *got.Rating)
	}
}

func TestCancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ride := f.book(t)

	var ae *AuthorizationError
	stranger := models.Profile{ID: "c9", Role: models.RoleCustomer}
	if _, err := f.engine.Cancel(ctx, session(stranger), ride.ID); !errors.As(err, &ae) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	r, err := f.engine.Cancel(ctx, session(driver), ride.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != models.RideCancelled {
		t.Fatalf("expected cancelled, got %s", r.Status)
	}
	var pe *PreconditionError
	if _, err := f.engine.Complete(ctx, session(driver), ride.ID); !errors.As(err, &pe) {
		t.Fatalf("completing cancelled ride: expected precondition error, got %v", err)
	}
}

func TestFailedWriteLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ride := f.book(t)

	broken := newFixture(t, failingUpdates{MemoryStore: f.store, err: errors.New("db down")})
	broken.engine.cache = f.cache

	if _, err := f.engine.ListRides(ctx, session(customer)); err != nil {
		t.Fatal(err)
	}
	_, err := broken.engine.Complete(ctx, session(driver), ride.ID)
	var ce *CollaboratorError
	if !errors.As(err, &ce) {
		t.Fatalf("expected collaborator error, got %v", err)
	}
	cached, ok, _ := f.cache.List(ctx, customer.ID)
	if !ok || len(cached) != 1 || cached[0].Status != models.RideBooked {
		t.Fatalf("cache changed after failed write: %+v", cached)
	}
	if len(broken.events.types()) != 0 {
		t.Fatal("no event expected after failed write")
	}
}

func TestTransitionRefreshesCachedList(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ride := f.book(t)

	if _, err := f.engine.ListRides(ctx, session(customer)); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.Complete(ctx, session(driver), ride.ID); err != nil {
		t.Fatal(err)
	}
	hist, err := f.engine.CustomerHistory(ctx, session(customer))
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != models.RideCompleted || !hist[0].CanPay {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestTransitionDuringCacheFillIsNotLost(t *testing.T) {
	ctx := context.Background()
	w := &writeDuringList{}
	f := newFixture(t, w)
	w.MemoryStore = f.store
	ride := f.book(t)

	w.during = func() {
		if _, err := f.engine.Complete(ctx, session(driver), ride.ID); err != nil {
			t.Errorf("complete: %v", err)
		}
	}
	first, err := f.engine.CustomerHistory(ctx, session(customer))
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 1 || first[0].Status != models.RideBooked {
		t.Fatalf("expected the rows read before the transition, got %+v", first)
	}
	if _, ok, _ := f.cache.List(ctx, customer.ID); ok {
		t.Fatal("rows read before the transition must not be cached")
	}

	hist, err := f.engine.CustomerHistory(ctx, session(customer))
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != models.RideCompleted || !hist[0].CanPay {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestReadsAreRetried(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyReads{fails: 2}
	f := newFixture(t, flaky)
	flaky.MemoryStore = f.store
	ride := f.book(t)

	if _, err := f.engine.Get(ctx, session(customer), ride.ID); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if flaky.calls != 3 {
		t.Fatalf("expected 3 reads, got %d", flaky.calls)
	}
}

func TestRecommendedDriversKeepsOrderAndDropsInvalid(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.recommender = fixedRecommender{
		{ID: "z", AverageRating: 3},
		{ID: "", AverageRating: 4},
		{ID: "a", AverageRating: 7},
		{ID: "m", AverageRating: 5, RideCount: 2},
	}
	got, err := f.engine.RecommendedDrivers(context.Background(), session(customer))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "z" || got[1].ID != "m" {
		t.Fatalf("unexpected drivers: %+v", got)
	}

	var ae *AuthorizationError
	if _, err := f.engine.RecommendedDrivers(context.Background(), session(driver)); !errors.As(err, &ae) {
		t.Fatalf("expected authorization error for driver, got %v", err)
	}
}
