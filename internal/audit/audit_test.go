package audit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"soapbox.chat/internal/fault"
	"soapbox.chat/internal/store"
)

// failingStore wraps the in-memory store and fails audit writes on demand.
type failingStore struct {
	*store.InMemory
	mu   sync.Mutex
	fail bool
}

func (s *failingStore) setFail(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = v
}

func (s *failingStore) AppendAudit(ctx context.Context, e store.AuditEntry) (int64, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return 0, errors.New("store down")
	}
	return s.InMemory.AppendAudit(ctx, e)
}

func (s *failingStore) ListAudit(ctx context.Context, offset, limit int) ([]store.AuditEntry, int, error) {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return nil, 0, errors.New("store down")
	}
	return s.InMemory.ListAudit(ctx, offset, limit)
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	l := New(store.NewInMemory())
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		id, err := l.Append(ctx, ActionAcquire, "writer1", "x", 0)
		if err != nil {
			t.Fatal(err)
		}
		if id <= last {
			t.Fatalf("ids not strictly increasing: %d after %d", id, last)
		}
		last = id
	}
}

func TestAppendTruncatesContent(t *testing.T) {
	mem := store.NewInMemory()
	l := New(mem)
	ctx := context.Background()

	if _, err := l.Append(ctx, ActionCreate, "writer1", strings.Repeat("x", 3000), 0); err != nil {
		t.Fatal(err)
	}
	entries, _, err := mem.ListAudit(ctx, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries[0].Content) != 2000 {
		t.Fatalf("content not truncated: %d", len(entries[0].Content))
	}
}

func TestDegradedModeBuffersAndRecovers(t *testing.T) {
	fs := &failingStore{InMemory: store.NewInMemory()}
	l := New(fs)
	ctx := context.Background()

	id1, err := l.Append(ctx, ActionLogin, "alice", "ok", 1)
	if err != nil {
		t.Fatal(err)
	}

	// Store goes away: append still succeeds and ids keep increasing.
	fs.setFail(true)
	id2, err := l.Append(ctx, ActionAcquire, "alice", "buffered", 0)
	if err != nil {
		t.Fatalf("degraded append must not fail: %v", err)
	}
	if id2 <= id1 {
		t.Fatalf("degraded id %d not after %d", id2, id1)
	}
	if !l.Degraded() {
		t.Fatal("log should report degraded mode")
	}

	// Listing serves the buffered ring while degraded.
	entries, total, err := l.List(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || entries[0].Content != "buffered" {
		t.Fatalf("unexpected degraded listing: total=%d %+v", total, entries)
	}

	// Store recovers: appends resume and the degraded flag clears.
	fs.setFail(false)
	id3, err := l.Append(ctx, ActionRelease, "alice", "recovered", 1)
	if err != nil {
		t.Fatal(err)
	}
	if id3 <= id2 {
		t.Fatalf("post-recovery id %d not after %d", id3, id2)
	}
	if l.Degraded() {
		t.Fatal("degraded flag should clear after a successful append")
	}
}

func TestStrictModeSurfacesStoreFailure(t *testing.T) {
	fs := &failingStore{InMemory: store.NewInMemory()}
	fs.setFail(true)
	l := New(fs, WithStrict())

	if _, err := l.Append(context.Background(), ActionLogin, "alice", "x", 1); fault.KindOf(err) != fault.StoreError {
		t.Fatalf("expected store-error in strict mode, got %v", err)
	}
}

func TestRingBufferIsBounded(t *testing.T) {
	fs := &failingStore{InMemory: store.NewInMemory()}
	fs.setFail(true)
	l := New(fs, WithRingSize(3), WithClock(func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := l.Append(ctx, ActionLogin, "alice", "e", 1); err != nil {
			t.Fatal(err)
		}
	}
	_, total, err := l.List(ctx, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("ring should hold 3 entries, got %d", total)
	}
}

func TestListValidatesPagination(t *testing.T) {
	l := New(store.NewInMemory())
	if _, _, err := l.List(context.Background(), 0, 10); fault.KindOf(err) != fault.InvalidInput {
		t.Fatalf("expected invalid-input, got %v", err)
	}
}
