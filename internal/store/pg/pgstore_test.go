package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"soapbox.chat/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func TestPutMessage(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("insert into messages")).
		WithArgs("alice", "hello", now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.PutMessage(context.Background(), "alice", "hello", now)
	if err != nil {
		t.Fatal(err)
	}
	if id != 7 {
		t.Fatalf("unexpected id: %d", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestUpdateMessageNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("update messages")).
		WithArgs(int64(42), "body", now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.UpdateMessage(context.Background(), 42, "body", now)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeleteMessage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta("delete from messages")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.DeleteMessage(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestGetMessageAuthorNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("select author from messages")).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"author"}))

	_, err := s.GetMessageAuthor(context.Background(), 9)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListMessages(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from messages")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectQuery(regexp.QuoteMeta("select id, author, body, created_at, updated_at")).
		WithArgs(0, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "author", "body", "created_at", "updated_at"}).
			AddRow(int64(2), "alice", "second", now.Add(time.Second), now.Add(time.Second)).
			AddRow(int64(1), "alice", "first", now, now))

	items, total, err := s.ListMessages(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 || len(items) != 2 || items[0].ID != 2 {
		t.Fatalf("unexpected listing: total=%d %+v", total, items)
	}
}

func TestAppendAudit(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("insert into audit_log")).
		WithArgs(now, "ACQUIRE", "writer1", "writer lock acquired", 0).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

	id, err := s.AppendAudit(context.Background(), store.AuditEntry{
		TS:        now,
		Action:    "ACQUIRE",
		Principal: "writer1",
		Content:   "writer lock acquired",
		LockValue: 0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 11 {
		t.Fatalf("unexpected id: %d", id)
	}
}

func TestAppendAuditNullPrincipal(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("insert into audit_log")).
		WithArgs(now, "RELEASE", nil, nil, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

	id, err := s.AppendAudit(context.Background(), store.AuditEntry{
		TS:        now,
		Action:    "RELEASE",
		LockValue: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 12 {
		t.Fatalf("unexpected id: %d", id)
	}
}

func TestListAudit(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("select count(*) from audit_log")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("select id, ts, action")).
		WithArgs(0, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "ts", "action", "principal", "content", "lock_value"}).
			AddRow(int64(1), now, "LOGIN", "alice", "authenticated", 1))

	entries, total, err := s.ListAudit(context.Background(), 0, 50)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || entries[0].Principal != "alice" {
		t.Fatalf("unexpected listing: %+v", entries)
	}
}
