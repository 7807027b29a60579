package session

import (
	"errors"
	"time"

	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/ids"
	"soapbox.chat/internal/registry"
)

const defaultTTL = time.Hour

// Principal is a verified identity attached to a request.
type Principal struct {
	Username string
	Role     registry.Role
}

// Authority issues and validates bearer tokens against the identity
// registry.
type Authority struct {
	signer   TokenSigner
	registry *registry.Registry
	ttl      time.Duration
	now      func() time.Time
}

// Option configures Authority.
type Option func(*Authority)

// WithTTL overrides the default one hour token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Authority) {
		if ttl > 0 {
			a.ttl = ttl
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(a *Authority) {
		if fn != nil {
			a.now = fn
		}
	}
}

// New constructs an Authority.
func New(signer TokenSigner, reg *registry.Registry, opts ...Option) *Authority {
	a := &Authority{
		signer:   signer,
		registry: reg,
		ttl:      defaultTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Issue mints a token for an authenticated principal.
func (a *Authority) Issue(username string, role registry.Role) (string, time.Time, error) {
	now := a.now().UTC()
	expires := now.Add(a.ttl)
	token, err := a.signer.Sign(Claims{
		Username:  username,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: expires,
		TokenID:   ids.New(),
	})
	if err != nil {
		return "", time.Time{}, fault.New(fault.Internal, "token signing failed")
	}
	return token, expires, nil
}

// Resolve verifies a bearer token and returns the principal it names. Beyond
// the signature and expiry it checks that the username still resolves in the
// registry and that the token's role matches the principal's current role.
//
// On expiry the decoded username is returned alongside the error so the
// caller can feed the presence tracker.
func (a *Authority) Resolve(token string) (Principal, string, error) {
	claims, err := a.signer.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return Principal{}, claims.Username, fault.New(fault.TokenExpired, "token expired")
		}
		return Principal{}, "", fault.New(fault.TokenInvalid, "invalid token")
	}
	if !claims.ExpiresAt.After(a.now()) {
		return Principal{}, claims.Username, fault.New(fault.TokenExpired, "token expired")
	}
	current, err := a.registry.Lookup(claims.Username)
	if err != nil {
		return Principal{}, "", fault.New(fault.TokenInvalid, "unknown user")
	}
	if current.Role != claims.Role {
		return Principal{}, "", fault.New(fault.RoleMismatch, "token role no longer matches account role")
	}
	return Principal{Username: claims.Username, Role: claims.Role}, "", nil
}
