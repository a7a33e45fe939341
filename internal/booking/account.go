package booking

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/taxi-booking/internal/aggregate"
	"github.com/example/taxi-booking/internal/auth"
	"github.com/example/taxi-booking/internal/models"
	"github.com/example/taxi-booking/internal/retry"
	"github.com/example/taxi-booking/internal/storage"
)

const avatarBucket = "avatars"

// OpenSession loads the profile of a verified identity, creating it on first
// sign-in with the token's full name. The insert is conflict-free so it is
// safe to retry.
func (e *Engine) OpenSession(ctx context.Context, id auth.Identity) (auth.Session, error) {
	var p models.Profile
	err := retry.Do(ctx, e.opts.ReadRetry, func(ctx context.Context) error {
		var err error
		p, err = e.profiles.EnsureProfile(ctx, id.UserID, id.FullName)
		return err
	})
	if err != nil {
		return auth.Session{}, &CollaboratorError{Op: "load profile", Err: err}
	}
	return auth.Session{UserID: id.UserID, Profile: p, Token: id}, nil
}

// SelectRole sets the account role. It can be chosen exactly once.
func (e *Engine) SelectRole(ctx context.Context, s auth.Session, role models.Role) (models.Profile, error) {
	const action = "choose a role"
	if !role.Valid() || role == models.RoleNone {
		return models.Profile{}, &ValidationError{Field: "role", Reason: "must be Driver or Customer"}
	}
	if !s.Authenticated() {
		return models.Profile{}, &AuthorizationError{Action: action, Reason: "sign in required"}
	}
	if s.Profile.Role != models.RoleNone {
		return models.Profile{}, &PreconditionError{Action: action, Required: "role is already " + string(s.Profile.Role)}
	}
	p, err := e.profiles.UpdateProfile(ctx,
		storage.ProfileFilter{ID: s.UserID, NoRole: true},
		storage.ProfilePatch{Role: &role})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Profile{}, &PreconditionError{Action: action, Required: "role has already been chosen"}
	}
	if err != nil {
		return models.Profile{}, &CollaboratorError{Op: "update profile", Err: err}
	}
	e.logger.InfoContext(ctx, "role_selected", "user_id", s.UserID, "role", string(role))
	return p, nil
}

// SetAvailability toggles whether a driver can be booked.
func (e *Engine) SetAvailability(ctx context.Context, s auth.Session, available bool) (models.Profile, error) {
	if err := requireRole(s, models.RoleDriver, "change availability"); err != nil {
		return models.Profile{}, err
	}
	p, err := e.profiles.UpdateProfile(ctx,
		storage.ProfileFilter{ID: s.UserID, HasRole: models.RoleDriver},
		storage.ProfilePatch{IsAvailable: &available})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return models.Profile{}, &CollaboratorError{Op: "update profile", Err: err}
	}
	e.logger.InfoContext(ctx, "availability_changed", "user_id", s.UserID, "is_available", available)
	return p, nil
}

// UploadAvatar stores an image under the user's folder and points the
// profile at its public URL.
func (e *Engine) UploadAvatar(ctx context.Context, s auth.Session, data []byte) (models.Profile, error) {
	if !s.Authenticated() {
		return models.Profile{}, &AuthorizationError{Action: "upload an avatar", Reason: "sign in required"}
	}
	if len(data) == 0 {
		return models.Profile{}, &ValidationError{Field: "avatar", Reason: "file is empty"}
	}
	if int64(len(data)) > e.opts.AvatarMaxBytes {
		return models.Profile{}, &ValidationError{Field: "avatar", Reason: fmt.Sprintf("file exceeds %d bytes", e.opts.AvatarMaxBytes)}
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return models.Profile{}, &ValidationError{Field: "avatar", Reason: "file is not an image"}
	}

	path := fmt.Sprintf("%s/%d", s.UserID, e.opts.Now().UnixMilli())
	if err := e.blobs.Upload(ctx, avatarBucket, path, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return models.Profile{}, &CollaboratorError{Op: "upload avatar", Err: err}
	}
	url := e.blobs.PublicURL(avatarBucket, path)
	p, err := e.profiles.UpdateProfile(ctx, storage.ProfileFilter{ID: s.UserID}, storage.ProfilePatch{ImageURL: &url})
	if errors.Is(err, storage.ErrNotFound) {
		return models.Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return models.Profile{}, &CollaboratorError{Op: "update profile", Err: err}
	}
	e.logger.InfoContext(ctx, "avatar_uploaded", "user_id", s.UserID, "bytes", len(data), "content_type", contentType)
	return p, nil
}

type DriverDashboard struct {
	IsAvailable bool                    `json:"is_available"`
	Summary     aggregate.DriverSummary `json:"summary"`
}

type CustomerDashboard struct {
	Drivers []models.RecommendedDriver `json:"recommended_drivers"`
	Rides   []aggregate.CustomerRide   `json:"rides"`
}

// Dashboard is the role-dependent landing view. Exactly one of Driver and
// Customer is set.
type Dashboard struct {
	Profile  models.Profile     `json:"profile"`
	Driver   *DriverDashboard   `json:"driver,omitempty"`
	Customer *CustomerDashboard `json:"customer,omitempty"`
}

func (e *Engine) Dashboard(ctx context.Context, s auth.Session) (Dashboard, error) {
	if !s.Authenticated() {
		return Dashboard{}, &AuthorizationError{Action: "view the dashboard", Reason: "sign in required"}
	}
	d := Dashboard{Profile: s.Profile}
	switch s.Profile.Role {
	case models.RoleDriver:
		sum, err := e.DriverSummary(ctx, s)
		if err != nil {
			return Dashboard{}, err
		}
		d.Driver = &DriverDashboard{IsAvailable: s.Profile.IsAvailable, Summary: sum}
	case models.RoleCustomer:
		drivers, err := e.RecommendedDrivers(ctx, s)
		if err != nil {
			return Dashboard{}, err
		}
		rides, err := e.CustomerHistory(ctx, s)
		if err != nil {
			return Dashboard{}, err
		}
		d.Customer = &CustomerDashboard{Drivers: drivers, Rides: rides}
	default:
		return Dashboard{}, ErrRoleRequired
	}
	return d, nil
}
