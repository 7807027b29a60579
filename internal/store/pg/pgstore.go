package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"soapbox.chat/internal/store"
)

// Store persists messages and audit entries in Postgres. Ids come from
// sequences, so they stay strictly increasing across restarts.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open connects with tuned pool defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for readiness pings and migrations.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) PutMessage(ctx context.Context, author, body string, createdAt time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into messages(author, body, created_at, updated_at)
		values ($1, $2, $3, $3)
		returning id
	`, author, body, createdAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id int64, body string, updatedAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		update messages set body=$2, updated_at=$3 where id=$1
	`, id, body, updatedAt)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `delete from messages where id=$1`, id)
	if err != nil {
		return err
	}
	return checkAffected(res)
}

func (s *Store) GetMessageAuthor(ctx context.Context, id int64) (string, error) {
	var author string
	err := s.db.QueryRowContext(ctx, `select author from messages where id=$1`, id).Scan(&author)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return author, nil
}

func (s *Store) ListMessages(ctx context.Context, offset, limit int) ([]store.Message, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from messages`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, author, body, created_at, updated_at
		from messages
		order by created_at desc, id desc
		offset $1 limit $2
	`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.Author, &m.Body, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}

func (s *Store) AppendAudit(ctx context.Context, e store.AuditEntry) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		insert into audit_log(ts, action, principal, content, lock_value)
		values ($1, $2, $3, $4, $5)
		returning id
	`, e.TS, e.Action, nullable(e.Principal), nullable(e.Content), e.LockValue).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) ListAudit(ctx context.Context, offset, limit int) ([]store.AuditEntry, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `select count(*) from audit_log`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		select id, ts, action, coalesce(principal, ''), coalesce(content, ''), lock_value
		from audit_log
		order by id desc
		offset $1 limit $2
	`, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []store.AuditEntry
	for rows.Next() {
		var e store.AuditEntry
		if err := rows.Scan(&e.ID, &e.TS, &e.Action, &e.Principal, &e.Content, &e.LockValue); err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
