package session

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"soapbox.chat/internal/registry"
)

const issuer = "soapbox"

// ErrTokenExpired distinguishes expiry from other verification failures so
// the presence tracker can react to a known principal's token running out.
var ErrTokenExpired = errors.New("session: token expired")

// ErrTokenInvalid covers every other verification failure.
var ErrTokenInvalid = errors.New("session: invalid token")

// Claims is what a session token carries. Tokens are stateless: the server
// keeps no table of issued tokens and revocation is by expiry only.
type Claims struct {
	Username  string
	Role      registry.Role
	IssuedAt  time.Time
	ExpiresAt time.Time
	TokenID   string
}

// TokenSigner signs and verifies bearer tokens. Verify must return
// ErrTokenExpired (with the decoded claims) for structurally valid but
// expired tokens.
type TokenSigner interface {
	Sign(claims Claims) (string, error)
	Verify(token string) (Claims, error)
}

// jwtClaims is the wire shape of the token payload.
type jwtClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// HS256Signer signs session tokens as HS256 JWTs.
type HS256Signer struct {
	secret []byte
	now    func() time.Time
}

// SignerOption configures HS256Signer.
type SignerOption func(*HS256Signer)

// WithSignerClock overrides the time source used for expiry validation.
func WithSignerClock(fn func() time.Time) SignerOption {
	return func(s *HS256Signer) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewHS256Signer builds a signer from a shared secret.
func NewHS256Signer(secret []byte, opts ...SignerOption) (*HS256Signer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session: signing secret is required")
	}
	s := &HS256Signer{secret: secret, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *HS256Signer) Sign(claims Claims) (string, error) {
	wire := jwtClaims{
		Role: string(claims.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   claims.Username,
			IssuedAt:  jwt.NewNumericDate(claims.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(claims.ExpiresAt),
			ID:        claims.TokenID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, wire)
	return token.SignedString(s.secret)
}

func (s *HS256Signer) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &jwtClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(func() time.Time { return s.now() }))

	wire, ok := claimsOf(parsed)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && ok {
			return decode(wire), ErrTokenExpired
		}
		return Claims{}, ErrTokenInvalid
	}
	if !ok || !parsed.Valid {
		return Claims{}, ErrTokenInvalid
	}
	c := decode(wire)
	if c.Username == "" || c.Role == "" {
		return Claims{}, ErrTokenInvalid
	}
	return c, nil
}

func claimsOf(parsed *jwt.Token) (*jwtClaims, bool) {
	if parsed == nil {
		return nil, false
	}
	wire, ok := parsed.Claims.(*jwtClaims)
	return wire, ok
}

func decode(wire *jwtClaims) Claims {
	c := Claims{
		Username: wire.Subject,
		Role:     registry.Role(wire.Role),
		TokenID:  wire.ID,
	}
	if wire.IssuedAt != nil {
		c.IssuedAt = wire.IssuedAt.Time
	}
	if wire.ExpiresAt != nil {
		c.ExpiresAt = wire.ExpiresAt.Time
	}
	return c
}
