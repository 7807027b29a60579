package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"soapbox.chat/internal/obs"
)

const defaultQueueCap = 256

// ErrClosed is returned by Next after the subscription has been terminated.
var ErrClosed = errors.New("bus: subscription closed")

// StatusSource yields the current lock state for the subscribe-time snapshot
// and the periodic reconciliation pass.
type StatusSource func() Event

// Bus is the process-local publish/subscribe fan-out. Publication assigns a
// total commit order under the bus mutex and never blocks on a slow
// subscriber: each subscription has a bounded FIFO that drops its oldest
// entry on overflow.
type Bus struct {
	mu       sync.Mutex
	subs     map[string]*Subscription
	seq      uint64
	queueCap int
	status   StatusSource

	// last lock_state actually put on the wire, compared by the
	// reconciliation loop
	lastLock Event
	hasLock  bool
}

// Option configures Bus.
type Option func(*Bus)

// WithQueueCap overrides the per-subscription queue capacity.
func WithQueueCap(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.queueCap = n
		}
	}
}

// New constructs a Bus. status provides the lock snapshot delivered on
// subscribe.
func New(status StatusSource, opts ...Option) *Bus {
	b := &Bus{
		subs:     make(map[string]*Subscription),
		queueCap: defaultQueueCap,
		status:   status,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscription is one live consumer. It is owned by the bus and destroyed by
// Unsubscribe, which the stream handler calls on delivery failure or context
// cancellation.
type Subscription struct {
	id        string
	principal string
	role      string
	capacity  int

	mu     sync.Mutex
	queue  []Event
	lossy  bool
	closed bool
	ready  chan struct{}
}

// ID identifies the subscription; subscribers hold it as a weak reference.
func (s *Subscription) ID() string { return s.id }

// Principal returns the authenticated username behind this subscription.
func (s *Subscription) Principal() string { return s.principal }

// Subscribe registers a consumer and enqueues a synthetic lock_state snapshot
// so the subscriber has a consistent initial view before any transition.
func (b *Bus) Subscribe(principal, role string) *Subscription {
	sub := &Subscription{
		id:        uuid.NewString(),
		principal: principal,
		role:      role,
		capacity:  b.queueCap,
		queue:     make([]Event, 0, b.queueCap),
		ready:     make(chan struct{}, 1),
	}

	// The snapshot is taken before the bus mutex: the status source reads
	// the lock state, and the lock publishes into this bus while holding
	// its own mutex. A transition slipping in between is repaired by the
	// periodic reconciliation pass.
	var snapshot Event
	if b.status != nil {
		snapshot = b.status()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub.id] = sub
	obs.Subscribers.Set(float64(len(b.subs)))
	if b.status != nil {
		b.seq++
		snapshot.seq = b.seq
		b.lastLock = snapshot
		b.hasLock = true
		sub.enqueue(snapshot)
	}
	return sub
}

// Unsubscribe terminates a subscription and releases its resources.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
	}
	obs.Subscribers.Set(float64(len(b.subs)))
	b.mu.Unlock()
	if ok {
		sub.close()
	}
}

// Publish assigns the next commit sequence and fans the event out. It never
// blocks: full queues drop their oldest entry and mark the subscription
// lossy.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	ev.seq = b.seq
	if ev.Kind == KindLockState {
		b.lastLock = ev
		b.hasLock = true
	}
	for _, sub := range b.subs {
		sub.enqueue(ev)
	}
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Reconcile re-emits the current lock state if it differs from the last
// lock_state put on the wire. It guards subscribers against lost updates and
// is driven by StartReconcile or called directly from tests.
func (b *Bus) Reconcile() {
	if b.status == nil {
		return
	}
	current := b.status()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.hasLock && sameLockState(b.lastLock, current) {
		return
	}
	b.seq++
	current.seq = b.seq
	b.lastLock = current
	b.hasLock = true
	for _, sub := range b.subs {
		sub.enqueue(current)
	}
}

// StartReconcile runs Reconcile at the given interval until the returned
// stop function is called.
func (b *Bus) StartReconcile(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.Reconcile()
			}
		}
	}()
	return cancel
}

func sameLockState(a, b Event) bool {
	if a.LockValue == nil || b.LockValue == nil {
		return false
	}
	if *a.LockValue != *b.LockValue || a.Holder != b.Holder {
		return false
	}
	if a.WriterEnabled == nil || b.WriterEnabled == nil {
		return a.WriterEnabled == b.WriterEnabled
	}
	return *a.WriterEnabled == *b.WriterEnabled
}

// enqueue appends to the bounded FIFO, dropping the oldest entry on
// overflow. Callers hold the bus mutex, which serializes enqueues and makes
// delivery order equal commit order.
func (s *Subscription) enqueue(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.capacity {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.lossy = true
		obs.DroppedEvents.Inc()
	}
	s.queue = append(s.queue, ev)
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available or the context ends. When the
// queue overflowed since the previous delivery, the returned event carries
// the sticky lossy flag and the flag resets.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Event{}, ErrClosed
		}
		if len(s.queue) > 0 {
			ev := s.queue[0]
			copy(s.queue, s.queue[1:])
			s.queue = s.queue[:len(s.queue)-1]
			if s.lossy {
				ev.Lossy = true
				s.lossy = false
			}
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.ready:
		}
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ready)
}
