package booking

import (
	"errors"
	"fmt"
)

var (
	ErrRideNotFound    = errors.New("ride not found")
	ErrProfileNotFound = errors.New("profile not found")
	// ErrRoleRequired means the account has not picked Driver or Customer yet.
	ErrRoleRequired = errors.New("role selection required")
)

// ValidationError reports a missing or malformed input. It is raised before
// any collaborator is called.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AuthorizationError reports an actor attempting something their role or
// relation to the ride does not allow.
type AuthorizationError struct {
	Action string
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("not allowed to %s: %s", e.Action, e.Reason)
}

// PreconditionError reports a transition attempted from a state that forbids
// it. Required names the state the caller needs.
type PreconditionError struct {
	Action   string
	Required string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s: %s", e.Action, e.Required)
}

// CollaboratorError wraps a failed call to the store, cache, payment gateway
// or blob store. Its message is not meant for end users.
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string { return e.Op + ": " + e.Err.Error() }

func (e *CollaboratorError) Unwrap() error { return e.Err }

// Kind classifies err for metrics and logs.
func Kind(err error) string {
	var (
		ve *ValidationError
		ae *AuthorizationError
		pe *PreconditionError
		ce *CollaboratorError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &ae):
		return "authorization"
	case errors.As(err, &pe):
		return "precondition"
	case errors.Is(err, ErrRideNotFound), errors.Is(err, ErrProfileNotFound):
		return "not_found"
	case errors.Is(err, ErrRoleRequired):
		return "role_required"
	case errors.As(err, &ce):
		return "collaborator"
	default:
		return "error"
	}
}
