package auth

import (
	"context"

	"github.com/example/taxi-booking/internal/models"
)

// Session is the acting user for one request. It is built once per request
// and passed explicitly into the booking engine.
type Session struct {
	UserID  string
	Profile models.Profile
	// Token identifies the bearer token for sign-out.
	Token Identity
}

func (s Session) Authenticated() bool { return s.UserID != "" }

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok
}
