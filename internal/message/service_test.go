package message

import (
	"context"
	"strings"
	"testing"

	"soapbox.chat/internal/audit"
	"soapbox.chat/internal/bus"
	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/lock"
	"soapbox.chat/internal/registry"
	"soapbox.chat/internal/store"
)

type fixture struct {
	svc   *Service
	lock  *lock.Lock
	store *store.InMemory
}

var (
	writer1 = registry.Summary{Username: "writer1", Role: registry.RoleWriter}
	writer2 = registry.Summary{Username: "writer2", Role: registry.RoleWriter}
	reader1 = registry.Summary{Username: "reader1", Role: registry.RoleReader}
)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewInMemory()
	auditlog := audit.New(mem)
	var lk *lock.Lock
	events := bus.New(func() bus.Event { return lk.StatusEvent() })
	lk = lock.New(auditlog, events)
	return &fixture{
		svc:   New(mem, lk, auditlog, events),
		lock:  lk,
		store: mem,
	}
}

func (f *fixture) acquire(t *testing.T, u registry.Summary) {
	t.Helper()
	if _, err := f.lock.Acquire(context.Background(), u.Username, u.Role); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestCreateRequiresLockOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Lock free: rejected.
	if _, err := f.svc.Create(ctx, writer1, "hi"); fault.KindOf(err) != fault.SemaphoreNotHeld {
		t.Fatalf("expected semaphore-not-held, got %v", err)
	}

	// Lock held by someone else: rejected, and no CREATE audit entry is
	// written for the rejected call.
	f.acquire(t, writer1)
	if _, err := f.svc.Create(ctx, writer2, "hi"); fault.KindOf(err) != fault.SemaphoreNotHeld {
		t.Fatalf("expected semaphore-not-held, got %v", err)
	}
	entries, _, err := f.store.ListAudit(ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if e.Action == audit.ActionCreate {
			t.Fatalf("rejected mutation must not be audited: %+v", e)
		}
	}

	// Holder succeeds; the audit entry records the holder with the lock held.
	msg, err := f.svc.Create(ctx, writer1, "hi")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID != 1 || msg.Author != "writer1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	entries, _, _ = f.store.ListAudit(ctx, 0, 1)
	if entries[0].Action != audit.ActionCreate || entries[0].Principal != "writer1" || entries[0].LockValue != lock.ValueHeld {
		t.Fatalf("unexpected audit entry: %+v", entries[0])
	}
}

func TestCreateRejectsReaders(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Create(context.Background(), reader1, "hi"); fault.KindOf(err) != fault.Forbidden {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestBodyBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acquire(t, writer1)

	cases := []struct {
		body string
		ok   bool
	}{
		{"", false},
		{"   ", false},
		{"a", true},
		{strings.Repeat("x", 2000), true},
		{strings.Repeat("x", 2001), false},
	}
	for i, tc := range cases {
		_, err := f.svc.Create(ctx, writer1, tc.body)
		if tc.ok && err != nil {
			t.Fatalf("case %d: unexpected error %v", i, err)
		}
		if !tc.ok && fault.KindOf(err) != fault.InvalidInput {
			t.Fatalf("case %d: expected invalid-input, got %v", i, err)
		}
	}
}

func TestUpdatePreservesAuthor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acquire(t, writer1)
	msg, err := f.svc.Create(ctx, writer1, "original")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.lock.Release(ctx, "writer1"); err != nil {
		t.Fatal(err)
	}

	// writer2 takes the lock but is not the author.
	f.acquire(t, writer2)
	if _, err := f.svc.Update(ctx, writer2, msg.ID, "hijack"); fault.KindOf(err) != fault.Forbidden {
		t.Fatalf("expected forbidden for non-author, got %v", err)
	}
	if err := f.lock.Release(ctx, "writer2"); err != nil {
		t.Fatal(err)
	}

	// The author edits while holding the lock.
	f.acquire(t, writer1)
	updated, err := f.svc.Update(ctx, writer1, msg.ID, "edited")
	if err != nil {
		t.Fatal(err)
	}
	if updated.Author != "writer1" || updated.Body != "edited" {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if updated.UpdatedAt.Before(msg.CreatedAt) {
		t.Fatalf("updated_at must not precede created_at")
	}
}

func TestUpdateMissingMessage(t *testing.T) {
	f := newFixture(t)
	f.acquire(t, writer1)
	if _, err := f.svc.Update(context.Background(), writer1, 42, "x"); fault.KindOf(err) != fault.NotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acquire(t, writer1)
	msg, err := f.svc.Create(ctx, writer1, "bye")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, writer1, msg.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(ctx, writer1, msg.ID); fault.KindOf(err) != fault.NotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acquire(t, writer1)
	for i := 0; i < 7; i++ {
		if _, err := f.svc.Create(ctx, writer1, strings.Repeat("m", i+1)); err != nil {
			t.Fatal(err)
		}
	}

	page, err := f.svc.List(ctx, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 7 || !page.HasMore || len(page.Items) != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}
	// Newest first: page 1 starts at the last created message.
	if page.Items[0].ID != 7 || page.Items[2].ID != 5 {
		t.Fatalf("unexpected ordering: %+v", page.Items)
	}

	last, err := f.svc.List(ctx, 3, 3)
	if err != nil {
		t.Fatal(err)
	}
	if last.HasMore || len(last.Items) != 1 || last.Items[0].ID != 1 {
		t.Fatalf("unexpected last page: %+v", last)
	}

	// Identical state, identical result.
	again, err := f.svc.List(ctx, 1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Items) != 3 || again.Items[0].ID != page.Items[0].ID {
		t.Fatalf("list is not stable across equal states")
	}
}

func TestListBoundaries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.List(ctx, -1, 10); fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("expected invalid-input for page=-1, got %v", err)
	}
	if _, err := f.svc.List(ctx, 1, 101); fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("expected invalid-input for limit=101, got %v", err)
	}
	if _, err := f.svc.List(ctx, 1001, 10); fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("expected invalid-input for page=1001, got %v", err)
	}
	if page, err := f.svc.List(ctx, 0, 0); err != nil || page.Page != 1 || page.Limit != 50 {
		t.Fatalf("defaults not applied: %+v %v", page, err)
	}
}

func TestMessageIDsStrictlyIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.acquire(t, writer1)

	var last int64
	for i := 0; i < 5; i++ {
		msg, err := f.svc.Create(ctx, writer1, "m")
		if err != nil {
			t.Fatal(err)
		}
		if msg.ID <= last {
			t.Fatalf("ids not strictly increasing: %d after %d", msg.ID, last)
		}
		last = msg.ID
	}
	if err := f.svc.Delete(ctx, writer1, last); err != nil {
		t.Fatal(err)
	}
	// Ids are never reused, even after a delete.
	msg, err := f.svc.Create(ctx, writer1, "m")
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID <= last {
		t.Fatalf("id %d reused after delete of %d", msg.ID, last)
	}
}
