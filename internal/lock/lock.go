package lock

import (
	"context"
	"sync"
	"time"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/bus"
	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/obs"
	"soapbox.chat/internal/registry"
)

// Lock values on the wire and in the audit log: 0 = held, 1 = free.
const (
	ValueHeld = 0
	ValueFree = 1
)

// Status is the externally observable lock state.
type Status struct {
	LockValue     int       `json:"lock_value"`
	Holder        string    `json:"holder,omitempty"`
	WriterEnabled bool      `json:"writer_enabled"`
	AcquiredAt    time.Time `json:"acquired_at,omitzero"`
	TS            time.Time `json:"ts"`
}

// Lock is the binary writer mutual exclusion. Exactly one of free or
// held-by-one-owner describes it at every observation point, and all
// transitions are atomic under a single mutex. Acquisition is non-blocking:
// there is no queue of pending acquirers, contention is surfaced to the
// caller for retry.
//
// Every transition appends an audit entry and publishes to the bus inside
// the critical section, so audit order, event order and transition order
// coincide.
type Lock struct {
	mu         sync.Mutex
	holder     string
	acquiredAt time.Time
	enabled    bool

	auditlog *audit.Log
	events   *bus.Bus
	now      func() time.Time
}

// Option configures Lock.
type Option func(*Lock)

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(l *Lock) {
		if fn != nil {
			l.now = fn
		}
	}
}

// New constructs a Lock in the free, writer-enabled state.
func New(auditlog *audit.Log, events *bus.Bus, opts ...Option) *Lock {
	l := &Lock{
		enabled:  true,
		auditlog: auditlog,
		events:   events,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Status reports the current state.
func (l *Lock) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.statusLocked()
}

func (l *Lock) statusLocked() Status {
	st := Status{
		LockValue:     ValueFree,
		WriterEnabled: l.enabled,
		TS:            l.now().UTC(),
	}
	if l.holder != "" {
		st.LockValue = ValueHeld
		st.Holder = l.holder
		st.AcquiredAt = l.acquiredAt
	}
	return st
}

// StatusEvent adapts Status to the bus snapshot shape.
func (l *Lock) StatusEvent() bus.Event {
	st := l.Status()
	return bus.LockState(st.LockValue, st.Holder, st.WriterEnabled, st.TS)
}

// Acquire attempts to take the lock for username. It never waits: the caller
// gets the lock or a contention error naming the current holder. Under a
// simultaneous pair of attempts exactly one observes free-to-held.
func (l *Lock) Acquire(ctx context.Context, username string, role registry.Role) (Status, error) {
	if !role.CanWrite() {
		return Status{}, fault.New(fault.Forbidden, "role %s cannot acquire the writer lock", role)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return l.statusLocked(), fault.New(fault.WriterDisabled, "writer access is disabled")
	}
	if l.holder != "" {
		obs.LockContention.Inc()
		return l.statusLocked(), fault.New(fault.SemaphoreUnavailable, "writer lock held by %s", l.holder).
			WithHolder(l.holder).WithRetry(1)
	}

	now := l.now().UTC()
	l.holder = username
	l.acquiredAt = now
	obs.LockAcquisitions.Inc()

	l.auditlog.Append(ctx, audit.ActionAcquire, username, "writer lock acquired", ValueHeld)
	l.events.Publish(bus.WriterChanged(bus.WriterAcquired, username, now))
	return l.statusLocked(), nil
}

// Release gives the lock up. Only the current holder may release; a release
// by anyone else leaves the state unchanged.
func (l *Lock) Release(ctx context.Context, username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == "" {
		return fault.New(fault.SemaphoreNotHeld, "writer lock is not held")
	}
	if l.holder != username {
		return fault.New(fault.SemaphoreNotHeld, "writer lock is held by another principal")
	}

	now := l.now().UTC()
	l.holder = ""
	l.acquiredAt = time.Time{}

	l.auditlog.Append(ctx, audit.ActionRelease, username, "writer lock released", ValueFree)
	l.events.Publish(bus.WriterChanged(bus.WriterReleased, username, now))
	return nil
}

// CheckOwner validates that username currently holds the lock. Message
// mutations call this before touching the store.
func (l *Lock) CheckOwner(username string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.holder == "" {
		return fault.New(fault.SemaphoreNotHeld, "writer lock is not held")
	}
	if l.holder != username {
		return fault.New(fault.SemaphoreNotHeld, "writer lock is held by another principal")
	}
	return nil
}

// SetEnabled flips the admin writer gate. Disabling while held force-releases
// the current holder first: the audit log records ADMIN_FORCE_RELEASE then
// ADMIN_TOGGLE, and subscribers observe the same order.
func (l *Lock) SetEnabled(ctx context.Context, admin string, enabled bool) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UTC()
	if !enabled && l.holder != "" {
		prev := l.holder
		l.holder = ""
		l.acquiredAt = time.Time{}
		obs.LockForcedReleases.Inc()
		l.auditlog.Append(ctx, audit.ActionAdminForceRelease, admin, "forced release of writer lock held by "+prev, ValueFree)
		l.events.Publish(bus.WriterChanged(bus.WriterForced, prev, now))
	}
	l.enabled = enabled

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	l.auditlog.Append(ctx, audit.ActionAdminToggle, admin, "writer access "+state, l.lockValueLocked())
	l.events.Publish(bus.AdminToggle(admin, enabled, now))
	return l.statusLocked()
}

// ClientVanished force-releases the lock when the presence tracker decides
// its holder is gone (closed subscription past the grace window, expired
// token, or logout). A no-op when username does not hold the lock.
func (l *Lock) ClientVanished(ctx context.Context, username string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holder == "" || l.holder != username {
		return
	}
	now := l.now().UTC()
	l.holder = ""
	l.acquiredAt = time.Time{}
	obs.LockForcedReleases.Inc()

	l.auditlog.Append(ctx, audit.ActionRelease, username, "reason=client-gone", ValueFree)
	l.events.Publish(bus.WriterChanged(bus.WriterReleased, username, now))
}

func (l *Lock) lockValueLocked() int {
	if l.holder != "" {
		return ValueHeld
	}
	return ValueFree
}
