// Package booking owns the ride lifecycle: booking a driver, completing,
// paying for and rating a ride, plus the profile operations that gate it.
//
// Every operation takes the acting auth.Session explicitly. A transition is
// validated against the current row, written with a single guarded update and
// only then reflected in the ride cache and the event stream. A failed write
// leaves every cached projection untouched.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/taxi-booking/internal/aggregate"
	"github.com/example/taxi-booking/internal/auth"
	"github.com/example/taxi-booking/internal/blob"
	"github.com/example/taxi-booking/internal/cache"
	"github.com/example/taxi-booking/internal/events"
	"github.com/example/taxi-booking/internal/models"
	"github.com/example/taxi-booking/internal/observability"
	"github.com/example/taxi-booking/internal/payments"
	"github.com/example/taxi-booking/internal/retry"
	"github.com/example/taxi-booking/internal/storage"
)

const maxFeedbackLen = 1000

// Deps are the collaborators of the engine. Rides, Profiles and Recommender
// are required; the rest fall back to no-op or in-memory implementations.
type Deps struct {
	Rides       storage.RideStore
	Profiles    storage.ProfileStore
	Recommender storage.Recommender
	Cache       cache.RideCache
	Events      events.Publisher
	Payments    payments.Gateway
	Blobs       blob.Store
	Logger      *slog.Logger
}

type Options struct {
	// PriceMin and PriceMax bound the placeholder fare, inclusive.
	PriceMin       int
	PriceMax       int
	Currency       string
	ReadRetry      retry.Policy
	AvatarMaxBytes int64
	// Rand returns an int in [0, n). Defaults to math/rand.
	Rand func(n int) int
	Now  func() time.Time
}

type Engine struct {
	rides       storage.RideStore
	profiles    storage.ProfileStore
	recommender storage.Recommender
	cache       cache.RideCache
	events      events.Publisher
	payments    payments.Gateway
	blobs       blob.Store
	logger      *slog.Logger
	opts        Options
}

func NewEngine(d Deps, o Options) *Engine {
	e := &Engine{
		rides:       d.Rides,
		profiles:    d.Profiles,
		recommender: d.Recommender,
		cache:       d.Cache,
		events:      d.Events,
		payments:    d.Payments,
		blobs:       d.Blobs,
		logger:      d.Logger,
		opts:        o,
	}
	if e.cache == nil {
		e.cache = cache.Nop{}
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.payments == nil {
		e.payments = payments.Dummy{}
	}
	if e.blobs == nil {
		e.blobs = blob.NewMemory("")
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.opts.PriceMin <= 0 {
		e.opts.PriceMin = 10
	}
	if e.opts.PriceMax < e.opts.PriceMin {
		e.opts.PriceMax = e.opts.PriceMin + 49
	}
	if e.opts.Currency == "" {
		e.opts.Currency = "usd"
	}
	if e.opts.ReadRetry.Attempts <= 0 {
		e.opts.ReadRetry = retry.Policy{Attempts: 3, Base: 100 * time.Millisecond, Max: time.Second}
	}
	if e.opts.AvatarMaxBytes <= 0 {
		e.opts.AvatarMaxBytes = 5 << 20
	}
	if e.opts.Rand == nil {
		var mu sync.Mutex
		src := rand.New(rand.NewSource(time.Now().UnixNano()))
		e.opts.Rand = func(n int) int {
			mu.Lock()
			defer mu.Unlock()
			return src.Intn(n)
		}
	}
	if e.opts.Now == nil {
		e.opts.Now = time.Now
	}
	return e
}

type BookRequest struct {
	DriverID        string `json:"driver_id"`
	PickupLocation  string `json:"pickup_location"`
	DropoffLocation string `json:"dropoff_location"`
}

// Book creates a ride in the booked state with a placeholder fare. The
// insert is never retried so a timeout cannot produce a duplicate booking.
func (e *Engine) Book(ctx context.Context, s auth.Session, req BookRequest) (ride models.Ride, err error) {
	defer e.observe("book", time.Now(), &err)

	if err := requireRole(s, models.RoleCustomer, "book a ride"); err != nil {
		return models.Ride{}, err
	}
	req.DriverID = strings.TrimSpace(req.DriverID)
	req.PickupLocation = strings.TrimSpace(req.PickupLocation)
	req.DropoffLocation = strings.TrimSpace(req.DropoffLocation)
	switch {
	case req.DriverID == "":
		return models.Ride{}, &ValidationError{Field: "driver_id", Reason: "choose a driver"}
	case req.PickupLocation == "":
		return models.Ride{}, &ValidationError{Field: "pickup_location", Reason: "pickup location is required"}
	case req.DropoffLocation == "":
		return models.Ride{}, &ValidationError{Field: "dropoff_location", Reason: "dropoff location is required"}
	}

	driver, err := e.loadProfile(ctx, req.DriverID)
	if errors.Is(err, ErrProfileNotFound) {
		return models.Ride{}, &ValidationError{Field: "driver_id", Reason: "no such driver"}
	}
	if err != nil {
		return models.Ride{}, err
	}
	if driver.Role != models.RoleDriver {
		return models.Ride{}, &ValidationError{Field: "driver_id", Reason: "no such driver"}
	}
	if !driver.IsAvailable {
		return models.Ride{}, &PreconditionError{Action: "book a ride", Required: "driver is not available for hire"}
	}

	ride, err = e.rides.InsertRide(ctx, models.Ride{
		CustomerID:      s.UserID,
		DriverID:        driver.ID,
		Status:          models.RideBooked,
		PickupLocation:  req.PickupLocation,
		DropoffLocation: req.DropoffLocation,
		Price:           float64(e.price()),
		PaymentStatus:   models.PaymentUnpaid,
		CreatedAt:       e.opts.Now().UTC(),
	})
	if err != nil {
		return models.Ride{}, &CollaboratorError{Op: "insert ride", Err: err}
	}
	observability.RidePriceTotal.Add(ride.Price)
	e.afterWrite(ctx, events.RideBooked, ride)
	return ride, nil
}

// price is a placeholder fare, not derived from distance.
func (e *Engine) price() int {
	return e.opts.PriceMin + e.opts.Rand(e.opts.PriceMax-e.opts.PriceMin+1)
}

// Complete moves a booked ride to completed. Only the assigned driver may.
func (e *Engine) Complete(ctx context.Context, s auth.Session, rideID int64) (ride models.Ride, err error) {
	defer e.observe("complete", time.Now(), &err)

	const action = "complete the ride"
	ride, err = e.loadRide(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !s.Authenticated() || ride.DriverID != s.UserID {
		return models.Ride{}, &AuthorizationError{Action: action, Reason: "only the assigned driver can complete a ride"}
	}
	if ride.Status != models.RideBooked {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride must be booked, it is " + string(ride.Status)}
	}
	status := models.RideCompleted
	return e.update(ctx, action, events.RideCompleted,
		storage.RideFilter{ID: ride.ID, Status: models.RideBooked},
		storage.RidePatch{Status: &status})
}

// Pay charges the customer and marks the ride paid. The charge carries a
// per-ride idempotency key, so paying again after a failed update does not
// charge twice.
func (e *Engine) Pay(ctx context.Context, s auth.Session, rideID int64) (ride models.Ride, err error) {
	defer e.observe("pay", time.Now(), &err)

	const action = "pay for the ride"
	ride, err = e.loadRide(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !s.Authenticated() || ride.CustomerID != s.UserID {
		return models.Ride{}, &AuthorizationError{Action: action, Reason: "only the ride's customer can pay"}
	}
	if ride.Status != models.RideCompleted {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride not yet completed by driver"}
	}
	if ride.Paid() {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride is already paid"}
	}

	ref, err := e.payments.Charge(ctx, payments.Charge{
		RideID:     ride.ID,
		CustomerID: ride.CustomerID,
		Amount:     payments.MinorUnits(ride.Price),
		Currency:   e.opts.Currency,
	})
	if err != nil {
		return models.Ride{}, &CollaboratorError{Op: "charge payment", Err: err}
	}
	paid := models.PaymentPaid
	ride, err = e.update(ctx, action, events.RidePaid,
		storage.RideFilter{ID: ride.ID, Status: models.RideCompleted, PaymentStatus: models.PaymentUnpaid},
		storage.RidePatch{PaymentStatus: &paid, PaymentRef: &ref})
	if err != nil {
		e.logger.ErrorContext(ctx, "payment_not_recorded", "ride_id", rideID, "payment_ref", ref, "error", err)
	}
	return ride, err
}

// Rate stores the customer's stars and optional feedback. A ride is rated
// at most once.
func (e *Engine) Rate(ctx context.Context, s auth.Session, rideID int64, stars int, feedback string) (ride models.Ride, err error) {
	defer e.observe("rate", time.Now(), &err)

	const action = "rate the ride"
	if stars < 1 || stars > 5 {
		return models.Ride{}, &ValidationError{Field: "rating", Reason: "choose between 1 and 5 stars"}
	}
	feedback = strings.TrimSpace(feedback)
	if len(feedback) > maxFeedbackLen {
		return models.Ride{}, &ValidationError{Field: "feedback", Reason: "feedback is too long"}
	}

	ride, err = e.loadRide(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !s.Authenticated() || ride.CustomerID != s.UserID {
		return models.Ride{}, &AuthorizationError{Action: action, Reason: "only the ride's customer can rate it"}
	}
	if ride.Status != models.RideCompleted {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride not yet completed by driver"}
	}
	if ride.Rated() {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride has already been rated"}
	}

	patch := storage.RidePatch{Rating: &stars}
	if feedback != "" {
		patch.Feedback = &feedback
	}
	return e.update(ctx, action, events.RideRated,
		storage.RideFilter{ID: ride.ID, Status: models.RideCompleted, Unrated: true}, patch)
}

// Cancel ends a booked ride without completing it. Either party may cancel.
func (e *Engine) Cancel(ctx context.Context, s auth.Session, rideID int64) (ride models.Ride, err error) {
	defer e.observe("cancel", time.Now(), &err)

	const action = "cancel the ride"
	ride, err = e.loadRide(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !s.Authenticated() || (ride.CustomerID != s.UserID && ride.DriverID != s.UserID) {
		return models.Ride{}, &AuthorizationError{Action: action, Reason: "only the ride's customer or driver can cancel it"}
	}
	if ride.Status != models.RideBooked {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride must be booked, it is " + string(ride.Status)}
	}
	status := models.RideCancelled
	return e.update(ctx, action, events.RideCancelled,
		storage.RideFilter{ID: ride.ID, Status: models.RideBooked},
		storage.RidePatch{Status: &status})
}

// update performs the single guarded write of a transition. A filter miss
// means another actor changed the row since it was read.
func (e *Engine) update(ctx context.Context, action string, typ events.Type, f storage.RideFilter, p storage.RidePatch) (models.Ride, error) {
	ride, err := e.rides.UpdateRide(ctx, f, p)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Ride{}, &PreconditionError{Action: action, Required: "ride changed in the meantime, refresh and retry"}
	}
	if err != nil {
		return models.Ride{}, &CollaboratorError{Op: "update ride", Err: err}
	}
	e.afterWrite(ctx, typ, ride)
	return ride, nil
}

// afterWrite propagates a committed row. Failures here are logged only; the
// store already holds the truth and the cache-repair consumer replays events.
func (e *Engine) afterWrite(ctx context.Context, typ events.Type, ride models.Ride) {
	if err := e.cache.Replace(ctx, ride); err != nil {
		observability.CacheErrorsTotal.Inc()
		e.logger.WarnContext(ctx, "ride_cache_replace_failed", "ride_id", ride.ID, "error", err)
		for _, uid := range []string{ride.CustomerID, ride.DriverID} {
			if err := e.cache.Invalidate(ctx, uid); err != nil {
				e.logger.WarnContext(ctx, "ride_cache_invalidate_failed", "user_id", uid, "error", err)
			}
		}
	}
	ev := events.RideEvent{ID: eventID(typ, ride), Type: typ, Ride: ride, At: e.opts.Now().UTC()}
	result := "ok"
	if err := e.events.Publish(ctx, ev); err != nil {
		result = "error"
		e.logger.WarnContext(ctx, "ride_event_publish_failed", "ride_id", ride.ID, "type", string(typ), "error", err)
	}
	observability.EventsPublishedTotal.WithLabelValues(string(typ), result).Inc()
	e.logger.InfoContext(ctx, string(typ),
		"ride_id", ride.ID,
		"customer_id", ride.CustomerID,
		"driver_id", ride.DriverID,
		"status", string(ride.Status),
		"payment_status", string(ride.PaymentStatus),
	)
}

// eventID is stable per ride and transition, so a replayed event keeps its id.
func eventID(typ events.Type, ride models.Ride) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d", typ, ride.ID))).String()
}

func (e *Engine) observe(op string, start time.Time, err *error) {
	observability.RideTransitionsTotal.WithLabelValues(op, Kind(*err)).Inc()
	observability.RideTransitionLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Get returns a ride visible to its customer or driver.
func (e *Engine) Get(ctx context.Context, s auth.Session, rideID int64) (models.Ride, error) {
	ride, err := e.loadRide(ctx, rideID)
	if err != nil {
		return models.Ride{}, err
	}
	if !s.Authenticated() || (ride.CustomerID != s.UserID && ride.DriverID != s.UserID) {
		return models.Ride{}, &AuthorizationError{Action: "view the ride", Reason: "not a party to this ride"}
	}
	return ride, nil
}

// ListRides returns the session user's rides newest first: as driver or as
// customer depending on the profile role.
func (e *Engine) ListRides(ctx context.Context, s auth.Session) ([]models.Ride, error) {
	if !s.Authenticated() {
		return nil, &AuthorizationError{Action: "list rides", Reason: "sign in required"}
	}
	var list func(context.Context, string) ([]models.Ride, error)
	switch s.Profile.Role {
	case models.RoleDriver:
		list = e.rides.ListRidesByDriver
	case models.RoleCustomer:
		list = e.rides.ListRidesByCustomer
	default:
		return nil, ErrRoleRequired
	}

	rides, ok, err := e.cache.List(ctx, s.UserID)
	if err != nil {
		observability.CacheErrorsTotal.Inc()
		e.logger.WarnContext(ctx, "ride_cache_list_failed", "error", err)
	}
	if ok {
		observability.CacheLookupsTotal.WithLabelValues("hit").Inc()
		return rides, nil
	}
	observability.CacheLookupsTotal.WithLabelValues("miss").Inc()

	// taken before the read so a transition committed meanwhile voids the Put
	epoch, epochErr := e.cache.Epoch(ctx, s.UserID)
	if epochErr != nil {
		observability.CacheErrorsTotal.Inc()
		e.logger.WarnContext(ctx, "ride_cache_epoch_failed", "error", epochErr)
	}
	err = retry.Do(ctx, e.opts.ReadRetry, func(ctx context.Context) error {
		var err error
		rides, err = list(ctx, s.UserID)
		return err
	})
	if err != nil {
		return nil, &CollaboratorError{Op: "list rides", Err: err}
	}
	if epochErr == nil {
		if err := e.cache.Put(ctx, s.UserID, rides, epoch); err != nil {
			observability.CacheErrorsTotal.Inc()
			e.logger.WarnContext(ctx, "ride_cache_put_failed", "error", err)
		}
	}
	return rides, nil
}

// RecommendedDrivers returns the provider's ranking unchanged except for
// rows that fail validation, which are dropped.
func (e *Engine) RecommendedDrivers(ctx context.Context, s auth.Session) ([]models.RecommendedDriver, error) {
	if err := requireRole(s, models.RoleCustomer, "see recommended drivers"); err != nil {
		return nil, err
	}
	var drivers []models.RecommendedDriver
	err := retry.Do(ctx, e.opts.ReadRetry, func(ctx context.Context) error {
		var err error
		drivers, err = e.recommender.RecommendedDrivers(ctx, s.UserID)
		return err
	})
	if err != nil {
		return nil, &CollaboratorError{Op: "recommend drivers", Err: err}
	}
	out := drivers[:0]
	for _, d := range drivers {
		if d.ID == "" || d.AverageRating < 0 || d.AverageRating > 5 || d.RideCount < 0 {
			e.logger.WarnContext(ctx, "recommended_driver_dropped", "driver_id", d.ID, "average_rating", d.AverageRating, "ride_count", d.RideCount)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// DriverSummary computes the driver dashboard from the driver's rides.
func (e *Engine) DriverSummary(ctx context.Context, s auth.Session) (aggregate.DriverSummary, error) {
	if err := requireRole(s, models.RoleDriver, "see driver earnings"); err != nil {
		return aggregate.DriverSummary{}, err
	}
	rides, err := e.ListRides(ctx, s)
	if err != nil {
		return aggregate.DriverSummary{}, err
	}
	return aggregate.SummarizeDriver(rides), nil
}

// CustomerHistory returns the customer's rides with the actions available on each.
func (e *Engine) CustomerHistory(ctx context.Context, s auth.Session) ([]aggregate.CustomerRide, error) {
	if err := requireRole(s, models.RoleCustomer, "see ride history"); err != nil {
		return nil, err
	}
	rides, err := e.ListRides(ctx, s)
	if err != nil {
		return nil, err
	}
	return aggregate.CustomerHistory(rides), nil
}

func (e *Engine) loadRide(ctx context.Context, id int64) (models.Ride, error) {
	var ride models.Ride
	err := retry.Do(ctx, e.opts.ReadRetry, func(ctx context.Context) error {
		var err error
		ride, err = e.rides.GetRide(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Ride{}, ErrRideNotFound
	}
	if err != nil {
		return models.Ride{}, &CollaboratorError{Op: "get ride", Err: err}
	}
	return ride, nil
}

func (e *Engine) loadProfile(ctx context.Context, id string) (models.Profile, error) {
	var p models.Profile
	err := retry.Do(ctx, e.opts.ReadRetry, func(ctx context.Context) error {
		var err error
		p, err = e.profiles.GetProfile(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return retry.Permanent(err)
		}
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return models.Profile{}, &CollaboratorError{Op: "get profile", Err: err}
	}
	return p, nil
}

func requireRole(s auth.Session, role models.Role, action string) error {
	if !s.Authenticated() {
		return &AuthorizationError{Action: action, Reason: "sign in required"}
	}
	if s.Profile.Role == models.RoleNone {
		return ErrRoleRequired
	}
	if s.Profile.Role != role {
		return &AuthorizationError{Action: action, Reason: "only a " + strings.ToLower(string(role)) + " can"}
	}
	return nil
}
