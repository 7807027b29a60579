package registry

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"soapbox.chat/internal/fault"
)

// Role classifies what a principal may do.
type Role string

const (
	RoleReader Role = "reader"
	RoleWriter Role = "writer"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a role string; empty defaults to reader.
func ParseRole(s string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(s))) {
	case "":
		return RoleReader, nil
	case RoleReader:
		return RoleReader, nil
	case RoleWriter:
		return RoleWriter, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fault.New(fault.InvalidInput, "role must be reader, writer or admin")
	}
}

// CanWrite reports whether the role may attempt message mutations and lock
// acquisition.
func (r Role) CanWrite() bool {
	return r == RoleWriter || r == RoleAdmin
}

const (
	minUsernameLen = 3
	maxUsernameLen = 50
	minPasswordLen = 6
	maxPasswordLen = 128

	lockoutThreshold = 5
	lockoutWindow    = 15 * time.Minute
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// principal identifies one human user. The registry exclusively owns these
// records; mutations happen under the per-registry mutex.
type principal struct {
	Username       string
	PasswordHash   []byte
	Role           Role
	CreatedAt      time.Time
	LastLoginAt    time.Time
	FailedAttempts int
	LockedUntil    time.Time
}

// Summary is the externally visible slice of a principal record.
type Summary struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// Registry holds principal records and enforces the credential and lockout
// policy. Plaintext passwords never leave the call stack.
type Registry struct {
	mu        sync.Mutex
	users     map[string]*principal
	hasher    PasswordHasher
	dummyHash []byte
	now       func() time.Time
}

// Option configures Registry.
type Option func(*Registry)

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// New constructs a Registry verifying credentials with hasher.
func New(hasher PasswordHasher, opts ...Option) (*Registry, error) {
	// The dummy hash keeps response time flat for unknown or locked
	// accounts so timing cannot leak username existence or lock state.
	dummy, err := hasher.Hash("soapbox-dummy-credential-1")
	if err != nil {
		return nil, err
	}
	r := &Registry{
		users:     make(map[string]*principal),
		hasher:    hasher,
		dummyHash: dummy,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Register creates a principal. The username is case-sensitive and unique.
func (r *Registry) Register(username, password string, role Role) (Summary, error) {
	if err := validateUsername(username); err != nil {
		return Summary{}, err
	}
	if err := validatePassword(password); err != nil {
		return Summary{}, err
	}
	hash, err := r.hasher.Hash(password)
	if err != nil {
		return Summary{}, fault.New(fault.Internal, "credential hashing failed")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[username]; exists {
		return Summary{}, fault.New(fault.InvalidInput, "username already taken")
	}
	r.users[username] = &principal{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    r.now().UTC(),
	}
	return Summary{Username: username, Role: role}, nil
}

// Authenticate verifies credentials and applies the lockout policy: five
// consecutive failures lock the account for fifteen minutes. Locked accounts
// fail without consulting the real credential, but a dummy verification runs
// so the response time stays constant.
func (r *Registry) Authenticate(username, password string) (Summary, error) {
	r.mu.Lock()
	p, ok := r.users[username]
	var (
		hash   []byte
		locked bool
		remain time.Duration
	)
	now := r.now()
	if ok {
		if !p.LockedUntil.IsZero() && now.Before(p.LockedUntil) {
			locked = true
			remain = p.LockedUntil.Sub(now)
		} else {
			hash = p.PasswordHash
		}
	}
	r.mu.Unlock()

	// The hash comparison runs outside the registry mutex: bcrypt blocks
	// for tens of milliseconds and must not stall other principals.
	if !ok || locked {
		_ = r.hasher.Verify(password, r.dummyHash)
		if locked {
			return Summary{}, fault.New(fault.AccountLocked, "account temporarily locked").
				WithRetry(int(remain.Seconds() + 0.5))
		}
		return Summary{}, fault.New(fault.InvalidCredentials, "invalid username or password")
	}

	verified := r.hasher.Verify(password, hash)

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok = r.users[username]
	if !ok {
		return Summary{}, fault.New(fault.InvalidCredentials, "invalid username or password")
	}
	now = r.now()
	if !p.LockedUntil.IsZero() && now.Before(p.LockedUntil) {
		return Summary{}, fault.New(fault.AccountLocked, "account temporarily locked").
			WithRetry(int(p.LockedUntil.Sub(now).Seconds() + 0.5))
	}
	if !verified {
		p.FailedAttempts++
		if p.FailedAttempts >= lockoutThreshold {
			p.FailedAttempts = 0
			p.LockedUntil = now.Add(lockoutWindow)
			return Summary{}, &lockoutError{inner: fault.New(fault.InvalidCredentials, "invalid username or password")}
		}
		return Summary{}, fault.New(fault.InvalidCredentials, "invalid username or password")
	}
	p.FailedAttempts = 0
	p.LockedUntil = time.Time{}
	p.LastLoginAt = now.UTC()
	return Summary{Username: p.Username, Role: p.Role}, nil
}

// Lookup resolves a username to its summary.
func (r *Registry) Lookup(username string) (Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.users[username]
	if !ok {
		return Summary{}, fault.New(fault.NotFound, "unknown user")
	}
	return Summary{Username: p.Username, Role: p.Role}, nil
}

// lockoutError marks the failure that tripped the lockout threshold so the
// router can write a LOCKOUT audit entry alongside the LOGIN_FAILED one.
type lockoutError struct {
	inner *fault.Error
}

func (e *lockoutError) Error() string { return e.inner.Error() }
func (e *lockoutError) Unwrap() error { return e.inner }

// TrippedLockout reports whether this failure transitioned the account into
// the locked state.
func TrippedLockout(err error) bool {
	var le *lockoutError
	return errors.As(err, &le)
}

func validateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return fault.New(fault.InvalidInput, "username must be %d-%d characters", minUsernameLen, maxUsernameLen)
	}
	if !usernameRe.MatchString(username) {
		return fault.New(fault.InvalidInput, "username may contain letters, digits, underscore and dash")
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLen || len(password) > maxPasswordLen {
		return fault.New(fault.InvalidInput, "password must be %d-%d characters", minPasswordLen, maxPasswordLen)
	}
	var hasLetter, hasDigit bool
	for _, c := range password {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			hasLetter = true
		}
	}
	if !hasLetter || !hasDigit {
		return fault.New(fault.InvalidInput, "password must contain at least one letter and one digit")
	}
	return nil
}
