package storage

import (
	"context"
	"errors"

	"github.com/example/taxi-booking/internal/models"
)

// ErrNotFound is returned when no row matches an id or an update filter.
var ErrNotFound = errors.New("storage: not found")

// RideStore defines persistence operations for rides.
type RideStore interface {
	InsertRide(ctx context.Context, r models.Ride) (models.Ride, error)
	GetRide(ctx context.Context, id int64) (models.Ride, error)
	// UpdateRide applies patch to the single row matching f and returns the
	// updated row. ErrNotFound means the filter matched nothing.
	UpdateRide(ctx context.Context, f RideFilter, p RidePatch) (models.Ride, error)
	ListRidesByDriver(ctx context.Context, driverID string) ([]models.Ride, error)
	ListRidesByCustomer(ctx context.Context, customerID string) ([]models.Ride, error)
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (models.Profile, error)
	// EnsureProfile returns the profile for id, creating it first. fullName
	// fills the name only while the stored one is empty.
	EnsureProfile(ctx context.Context, id, fullName string) (models.Profile, error)
	UpdateProfile(ctx context.Context, f ProfileFilter, p ProfilePatch) (models.Profile, error)
}

// Recommender returns drivers already ranked for customerID.
type Recommender interface {
	RecommendedDrivers(ctx context.Context, customerID string) ([]models.RecommendedDriver, error)
}

// RideFilter selects the row an update applies to. Zero-valued guard fields
// are ignored.
type RideFilter struct {
	ID            int64
	Status        models.RideStatus
	PaymentStatus models.PaymentStatus
	Unrated       bool
}

type RidePatch struct {
	Status        *models.RideStatus
	PaymentStatus *models.PaymentStatus
	PaymentRef    *string
	Rating        *int
	Feedback      *string
}

type ProfileFilter struct {
	ID      string
	NoRole  bool
	HasRole models.Role
}

type ProfilePatch struct {
	Role        *models.Role
	IsAvailable *bool
	ImageURL    *string
}

func (f RideFilter) matches(r models.Ride) bool {
	if r.ID != f.ID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.PaymentStatus != "" && r.PaymentStatus != f.PaymentStatus {
		return false
	}
	if f.Unrated && r.Rating != nil {
		return false
	}
	return true
}

func (p RidePatch) apply(r *models.Ride) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.PaymentStatus != nil {
		r.PaymentStatus = *p.PaymentStatus
	}
	if p.PaymentRef != nil {
		r.PaymentRef = *p.PaymentRef
	}
	if p.Rating != nil {
		v := *p.Rating
		r.Rating = &v
	}
	if p.Feedback != nil {
		v := *p.Feedback
		r.Feedback = &v
	}
}

func (f ProfileFilter) matches(p models.Profile) bool {
	if p.ID != f.ID {
		return false
	}
	if f.NoRole && p.Role != models.RoleNone {
		return false
	}
	if f.HasRole != "" && p.Role != f.HasRole {
		return false
	}
	return true
}

func (p ProfilePatch) apply(pr *models.Profile) {
	if p.Role != nil {
		pr.Role = *p.Role
	}
	if p.IsAvailable != nil {
		pr.IsAvailable = *p.IsAvailable
	}
	if p.ImageURL != nil {
		pr.ImageURL = *p.ImageURL
	}
}
