package source

import (
	"database/sql"

	"mysql-binlog-watcher/internal/models"
)

// Handler receives every ChangeRecord the source decides to forward.
// Records are delivered one at a time, in binlog order, from a single
// goroutine.
type Handler func(*models.ChangeRecord)

// Config is the filter configuration a source accepts at Start and again on
// every Reconfigure.
//
// IncludeSchema semantics: a nil map forwards every schema; a non-nil map
// forwards only the schemas it lists, where an empty table slice means the
// whole schema and a non-empty slice names the tables exactly. A non-nil
// empty map therefore forwards nothing, which is how pausing is expressed.
type Config struct {
	// StartAtEnd skips binlog history and begins at the current master
	// position. Only consulted at Start.
	StartAtEnd bool

	IncludeSchema map[string][]string
	ExcludeSchema map[string][]string

	// IncludeEvents lists the operations to forward. Nil means row changes
	// only (insert, update, delete); OpTableMeta must be requested
	// explicitly.
	IncludeEvents []models.Op
}

// Includes reports whether the filter forwards changes for schema.table.
func (c Config) Includes(schema, table string) bool {
	if tables, ok := c.ExcludeSchema[schema]; ok {
		if len(tables) == 0 {
			return false
		}
		for _, t := range tables {
			if t == table {
				return false
			}
		}
	}
	if c.IncludeSchema == nil {
		return true
	}
	tables, ok := c.IncludeSchema[schema]
	if !ok {
		return false
	}
	if len(tables) == 0 {
		return true
	}
	for _, t := range tables {
		if t == table {
			return true
		}
	}
	return false
}

// Wants reports whether the filter forwards records of the given operation.
func (c Config) Wants(op models.Op) bool {
	if c.IncludeEvents == nil {
		return op == models.OpInsert || op == models.OpUpdate || op == models.OpDelete
	}
	for _, o := range c.IncludeEvents {
		if o == op {
			return true
		}
	}
	return false
}

// Source is a binlog changefeed. The watcher treats it as a black box: it is
// started once with a filter configuration, reconfigured as subscriptions
// change, and stopped to release its resources.
type Source interface {
	// Start begins delivering records to h. It returns once the stream is
	// established; delivery happens on a background goroutine.
	Start(cfg Config, h Handler) error

	// Reconfigure replaces the filter configuration of a running source.
	// Records already decoded may still be delivered under the old filter.
	Reconfigure(cfg Config) error

	// Stop terminates delivery and releases the stream. Safe to call more
	// than once.
	Stop() error

	// Connection exposes the source's introspection database handle, or nil
	// if the source does not keep one.
	Connection() *sql.DB

	// Err reports a fatal stream failure. The source does not reconnect; a
	// value here means the feed is dead.
	Err() <-chan error
}
