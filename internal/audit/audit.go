package audit

import (
	"context"
	"sync"
	"time"

	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/ids"
	"soapbox.chat/internal/obs"
	"soapbox.chat/internal/store"
)

// Actions recorded in the transaction log.
const (
	ActionCreate            = "CREATE"
	ActionUpdate            = "UPDATE"
	ActionDelete            = "DELETE"
	ActionRead              = "READ"
	ActionAcquire           = "ACQUIRE"
	ActionRelease           = "RELEASE"
	ActionAdminToggle       = "ADMIN_TOGGLE"
	ActionAdminForceRelease = "ADMIN_FORCE_RELEASE"
	ActionLogin             = "LOGIN"
	ActionLoginFailed       = "LOGIN_FAILED"
	ActionRegister          = "REGISTER"
	ActionLockout           = "LOCKOUT"
)

const (
	maxContentLen   = 2000
	defaultRingSize = 10_000
)

// Log is the append-only record of every committed operation and lock
// transition. Appends are serialized so entry ids reflect commit order.
// When the backing store fails, entries degrade to a bounded in-memory ring
// buffer and the originating operation is not rolled back; in strict mode a
// store failure is surfaced instead.
type Log struct {
	mu       sync.Mutex
	store    store.Store
	strict   bool
	ringSize int
	ring     []store.AuditEntry
	ringSeq  int64
	degraded bool
	now      func() time.Time
}

// Option configures Log.
type Option func(*Log)

// WithStrict makes a store failure during append fatal to the operation
// instead of degrading to the ring buffer.
func WithStrict() Option {
	return func(l *Log) { l.strict = true }
}

// WithRingSize bounds the degraded-mode buffer.
func WithRingSize(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.ringSize = n
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Log writing through to st.
func New(st store.Store, opts ...Option) *Log {
	l := &Log{
		store:    st,
		ringSize: defaultRingSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records one entry. lockValue is 0 when the lock was held after the
// action's effect, 1 when free. The returned id is strictly increasing.
func (l *Log) Append(ctx context.Context, action, principal, content string, lockValue int) (int64, error) {
	if len(content) > maxContentLen {
		content = content[:maxContentLen]
	}
	entry := store.AuditEntry{
		TS:        l.now().UTC(),
		Action:    action,
		Principal: principal,
		Content:   content,
		LockValue: lockValue,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id, err := l.store.AppendAudit(ctx, entry)
	if err == nil {
		if l.degraded {
			l.degraded = false
			obs.AuditDegraded.Set(0)
		}
		if id > l.ringSeq {
			l.ringSeq = id
		}
		return id, nil
	}
	if l.strict {
		return 0, fault.New(fault.StoreError, "audit append failed")
	}

	// Degraded path: keep the entry in memory, warn, let the operation stand.
	correlation := ids.New()
	if !l.degraded {
		l.degraded = true
		obs.AuditDegraded.Set(1)
	}
	obs.LogEvent(map[string]any{
		"level":          "warn",
		"msg":            "audit store unavailable, entry buffered in memory",
		"action":         action,
		"correlation_id": correlation,
	})
	l.ringSeq++
	entry.ID = l.ringSeq
	if len(l.ring) >= l.ringSize {
		l.ring = l.ring[1:]
	}
	l.ring = append(l.ring, entry)
	return entry.ID, nil
}

// Degraded reports whether appends are currently falling back to the ring
// buffer; surfaced by the health endpoints.
func (l *Log) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.degraded
}

// List returns one page of entries newest-first along with the total count.
// While the store is unavailable the buffered ring is served instead so
// admins retain visibility.
func (l *Log) List(ctx context.Context, page, limit int) ([]store.AuditEntry, int, error) {
	if page < 1 || limit < 1 {
		return nil, 0, fault.New(fault.InvalidInput, "page and limit must be positive")
	}
	offset := (page - 1) * limit

	entries, total, err := l.store.ListAudit(ctx, offset, limit)
	if err == nil {
		return entries, total, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.degraded {
		return nil, 0, fault.New(fault.StoreError, "audit list failed")
	}
	total = len(l.ring)
	if offset >= total {
		return nil, total, nil
	}
	out := make([]store.AuditEntry, 0, limit)
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.ring[i])
	}
	return out, total, nil
}
