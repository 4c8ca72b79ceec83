package watcher

import "mysql-binlog-watcher/internal/models"

// Event is the normalized view of one ChangeRecord handed to listeners. It is
// a read-only projection; it holds the record only for the duration of
// dispatch and listeners must not retain the row maps past their callback if
// they need isolation.
type Event struct {
	rec *models.ChangeRecord
}

func newEvent(rec *models.ChangeRecord) *Event {
	return &Event{rec: rec}
}

func (e *Event) Schema() string { return e.rec.Schema }
func (e *Event) Table() string  { return e.rec.Table }

// Type returns the operation kind of the underlying change.
func (e *Event) Type() models.Op { return e.rec.Op }

// Rows returns the row images: new images for inserts and updates, deleted
// images for deletes.
func (e *Event) Rows() []map[string]interface{} { return e.rec.Rows }

// OldRows returns the prior row images of an update, index-aligned with
// Rows. Empty for other operations.
func (e *Event) OldRows() []map[string]interface{} { return e.rec.OldRows }

// Topic returns the routing key the event was published on.
func (e *Event) Topic() Topic {
	return Topic{Schema: e.rec.Schema, Table: e.rec.Table, Op: e.rec.Op}
}

// Record exposes the underlying ChangeRecord, mainly for sinks that
// re-serialize the whole event.
func (e *Event) Record() *models.ChangeRecord { return e.rec }
