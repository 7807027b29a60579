package bus

import "time"

// Kind tags an event on the stream.
type Kind string

const (
	KindLockState      Kind = "lock_state"
	KindMessageCreated Kind = "message_created"
	KindMessageUpdated Kind = "message_updated"
	KindMessageDeleted Kind = "message_deleted"
	KindAdminToggle    Kind = "admin_toggle"
	KindWriterChanged  Kind = "writer_changed"
)

// Writer-change sub-events.
const (
	WriterAcquired = "acquired"
	WriterReleased = "released"
	WriterForced   = "forced"
)

// Event is the tagged union delivered to subscribers. Fields not meaningful
// for a given kind stay at their zero value and are omitted on the wire.
// Lossy is stamped at delivery time when the subscription's queue has
// overflowed since the previous delivery.
type Event struct {
	Kind          Kind      `json:"event"`
	TS            time.Time `json:"ts"`
	Lossy         bool      `json:"lossy,omitempty"`
	LockValue     *int      `json:"lock_value,omitempty"`
	Holder        string    `json:"holder,omitempty"`
	WriterEnabled *bool     `json:"writer_enabled,omitempty"`
	ID            int64     `json:"id,omitempty"`
	Author        string    `json:"author,omitempty"`
	Body          string    `json:"body,omitempty"`
	Admin         string    `json:"admin,omitempty"`
	Enabled       *bool     `json:"enabled,omitempty"`
	Change        string    `json:"change,omitempty"`
	Principal     string    `json:"principal,omitempty"`

	seq uint64
}

// Seq is the bus-assigned commit sequence, exposed for tests asserting
// delivery order.
func (e Event) Seq() uint64 { return e.seq }

// LockState builds the snapshot event: lockValue 0 when held, 1 when free.
func LockState(lockValue int, holder string, enabled bool, ts time.Time) Event {
	v := lockValue
	en := enabled
	return Event{
		Kind:          KindLockState,
		TS:            ts,
		LockValue:     &v,
		Holder:        holder,
		WriterEnabled: &en,
	}
}

// MessageCreated builds a message_created event.
func MessageCreated(id int64, author, body string, ts time.Time) Event {
	return Event{Kind: KindMessageCreated, TS: ts, ID: id, Author: author, Body: body}
}

// MessageUpdated builds a message_updated event.
func MessageUpdated(id int64, author, body string, ts time.Time) Event {
	return Event{Kind: KindMessageUpdated, TS: ts, ID: id, Author: author, Body: body}
}

// MessageDeleted builds a message_deleted event.
func MessageDeleted(id int64, ts time.Time) Event {
	return Event{Kind: KindMessageDeleted, TS: ts, ID: id}
}

// AdminToggle builds an admin_toggle event.
func AdminToggle(admin string, enabled bool, ts time.Time) Event {
	en := enabled
	return Event{Kind: KindAdminToggle, TS: ts, Admin: admin, Enabled: &en}
}

// WriterChanged builds a writer_changed event; change is one of
// WriterAcquired, WriterReleased, WriterForced.
func WriterChanged(change, principal string, ts time.Time) Event {
	return Event{Kind: KindWriterChanged, TS: ts, Change: change, Principal: principal}
}
