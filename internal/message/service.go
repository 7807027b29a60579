package message

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/bus"
	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/lock"
	"soapbox.chat/internal/registry"
	"soapbox.chat/internal/store"
)

const (
	maxBodyLen = 2000

	// Pagination bounds shared with the audit listing.
	DefaultLimit = 50
	MaxLimit     = 100
	MaxPage      = 1000
)

// Page is one page of the message log, newest-first.
type Page struct {
	Items   []store.Message `json:"items"`
	Page    int             `json:"page"`
	Limit   int             `json:"limit"`
	Total   int             `json:"total"`
	HasMore bool            `json:"has_more"`
}

// Service owns the set of messages. Every mutation is gated by writer lock
// ownership and runs as one logical critical section: authorize, check
// ownership, mutate the store, append the audit entry, publish the event.
// The lock itself is never held across the store call, so status reads and
// acquisitions do not stall on store latency.
type Service struct {
	store    store.Store
	lock     *lock.Lock
	auditlog *audit.Log
	events   *bus.Bus
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// New constructs a Service.
func New(st store.Store, lk *lock.Lock, auditlog *audit.Log, events *bus.Bus, opts ...Option) *Service {
	s := &Service{
		store:    st,
		lock:     lk,
		auditlog: auditlog,
		events:   events,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns one page of messages, newest-first. Any authenticated role
// may read; no lock is required.
func (s *Service) List(ctx context.Context, page, limit int) (Page, error) {
	page, limit, err := NormalizePage(page, limit)
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.store.ListMessages(ctx, (page-1)*limit, limit)
	if err != nil {
		return Page{}, storeFailure(ctx, err)
	}
	if items == nil {
		items = []store.Message{}
	}
	return Page{
		Items:   items,
		Page:    page,
		Limit:   limit,
		Total:   total,
		HasMore: page*limit < total,
	}, nil
}

// Create appends a message for the current lock holder.
func (s *Service) Create(ctx context.Context, p registry.Summary, body string) (store.Message, error) {
	body, err := validateBody(body)
	if err != nil {
		return store.Message{}, err
	}
	if err := s.authorize(p); err != nil {
		return store.Message{}, err
	}
	if err := s.lock.CheckOwner(p.Username); err != nil {
		return store.Message{}, err
	}

	now := s.now().UTC()
	id, err := s.store.PutMessage(ctx, p.Username, body, now)
	if err != nil {
		return store.Message{}, storeFailure(ctx, err)
	}

	s.auditlog.Append(ctx, audit.ActionCreate, p.Username, body, lock.ValueHeld)
	s.events.Publish(bus.MessageCreated(id, p.Username, body, now))
	return store.Message{ID: id, Author: p.Username, Body: body, CreatedAt: now, UpdatedAt: now}, nil
}

// Update edits a message. Only the original author may edit, and only while
// holding the lock; the author field is immutable.
func (s *Service) Update(ctx context.Context, p registry.Summary, id int64, body string) (store.Message, error) {
	body, err := validateBody(body)
	if err != nil {
		return store.Message{}, err
	}
	if err := s.authorize(p); err != nil {
		return store.Message{}, err
	}
	if err := s.lock.CheckOwner(p.Username); err != nil {
		return store.Message{}, err
	}
	if err := s.checkAuthor(ctx, p.Username, id); err != nil {
		return store.Message{}, err
	}

	now := s.now().UTC()
	if err := s.store.UpdateMessage(ctx, id, body, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Message{}, fault.New(fault.NotFound, "message %d not found", id)
		}
		return store.Message{}, storeFailure(ctx, err)
	}

	s.auditlog.Append(ctx, audit.ActionUpdate, p.Username, fmt.Sprintf("id=%d %s", id, body), lock.ValueHeld)
	s.events.Publish(bus.MessageUpdated(id, p.Username, body, now))
	return store.Message{ID: id, Author: p.Username, Body: body, UpdatedAt: now}, nil
}

// Delete removes a message under the same authorization as Update.
func (s *Service) Delete(ctx context.Context, p registry.Summary, id int64) error {
	if err := s.authorize(p); err != nil {
		return err
	}
	if err := s.lock.CheckOwner(p.Username); err != nil {
		return err
	}
	if err := s.checkAuthor(ctx, p.Username, id); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := s.store.DeleteMessage(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fault.New(fault.NotFound, "message %d not found", id)
		}
		return storeFailure(ctx, err)
	}

	s.auditlog.Append(ctx, audit.ActionDelete, p.Username, fmt.Sprintf("id=%d", id), lock.ValueHeld)
	s.events.Publish(bus.MessageDeleted(id, now))
	return nil
}

func (s *Service) authorize(p registry.Summary) error {
	if !p.Role.CanWrite() {
		return fault.New(fault.Forbidden, "role %s cannot mutate messages", p.Role)
	}
	return nil
}

func (s *Service) checkAuthor(ctx context.Context, username string, id int64) error {
	author, err := s.store.GetMessageAuthor(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fault.New(fault.NotFound, "message %d not found", id)
		}
		return storeFailure(ctx, err)
	}
	if author != username {
		return fault.New(fault.Forbidden, "only the author may modify a message")
	}
	return nil
}

func validateBody(body string) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fault.New(fault.InvalidInput, "message body must not be empty")
	}
	if len([]rune(body)) > maxBodyLen {
		return "", fault.New(fault.InvalidInput, "message body must be at most %d characters", maxBodyLen)
	}
	return body, nil
}

// NormalizePage applies defaults and bounds to pagination parameters.
func NormalizePage(page, limit int) (int, int, error) {
	if page == 0 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 || page > MaxPage {
		return 0, 0, fault.New(fault.InvalidInput, "page must be between 1 and %d", MaxPage)
	}
	if limit < 1 || limit > MaxLimit {
		return 0, 0, fault.New(fault.InvalidInput, "limit must be between 1 and %d", MaxLimit)
	}
	return page, limit, nil
}

func storeFailure(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fault.New(fault.Timeout, "store call exceeded the request deadline")
	}
	return fault.New(fault.StoreError, "message store failure")
}
