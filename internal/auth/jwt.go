package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrRevoked      = errors.New("token revoked")
)

// Revoker remembers signed-out tokens until they expire.
type Revoker interface {
	Revoke(ctx context.Context, tokenID string, until time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Identity is the verified subject of a bearer token.
type Identity struct {
	UserID    string
	TokenID   string
	ExpiresAt time.Time
	// FullName comes from the provider's user metadata and may be empty.
	FullName string
}

// tokenClaims are the registered claims plus the metadata the identity
// provider copies from sign-up.
type tokenClaims struct {
	jwt.RegisteredClaims
	UserMetadata struct {
		FullName string `json:"full_name"`
		Name     string `json:"name"`
	} `json:"user_metadata"`
}

func (c *tokenClaims) fullName() string {
	if n := strings.TrimSpace(c.UserMetadata.FullName); n != "" {
		return n
	}
	return strings.TrimSpace(c.UserMetadata.Name)
}

// Verifier validates HS256 access tokens issued by the identity provider.
// The subject claim carries the user id.
type Verifier struct {
	secret   []byte
	audience string
	issuer   string
	revoker  Revoker
}

func NewVerifier(secret, audience, issuer string, revoker Revoker) *Verifier {
	return &Verifier{secret: []byte(secret), audience: audience, issuer: issuer, revoker: revoker}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}

// CurrentUser returns the identity behind raw, or an error if the token is
// malformed, expired, signed with another key or signed out.
func (v *Verifier) CurrentUser(ctx context.Context, raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &tokenClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) { return v.secret, nil }, opts...); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	id := Identity{UserID: claims.Subject, TokenID: tokenID(raw, &claims.RegisteredClaims), FullName: claims.fullName()}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	if v.revoker != nil {
		revoked, err := v.revoker.IsRevoked(ctx, id.TokenID)
		if err != nil {
			return Identity{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Identity{}, ErrRevoked
		}
	}
	return id, nil
}

// SignOut revokes the token until its expiry.
func (v *Verifier) SignOut(ctx context.Context, id Identity) error {
	if v.revoker == nil {
		return nil
	}
	return v.revoker.Revoke(ctx, id.TokenID, id.ExpiresAt)
}

// tokenID prefers the jti claim and falls back to the session id and
// signature so tokens without jti can still be revoked.
func tokenID(raw string, c *jwt.RegisteredClaims) string {
	if c.ID != "" {
		return c.ID
	}
	if i := strings.LastIndexByte(raw, '.'); i >= 0 {
		return c.Subject + ":" + raw[i+1:]
	}
	return c.Subject
}

// MemoryRevoker is a process-local Revoker.
type MemoryRevoker struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewMemoryRevoker() *MemoryRevoker {
	return &MemoryRevoker{revoked: make(map[string]time.Time)}
}

func (m *MemoryRevoker) Revoke(_ context.Context, tokenID string, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[tokenID] = until
	return nil
}

func (m *MemoryRevoker) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.revoked[tokenID]
	if !ok {
		return false, nil
	}
	if !until.IsZero() && time.Now().After(until) {
		delete(m.revoked, tokenID)
		return false, nil
	}
	return true, nil
}
