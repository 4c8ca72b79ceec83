package watcher

import "sync"

// TableFilter says which tables of a schema are of interest. Build one with
// AllTables or Tables; the zero value behaves like AllTables so a bare
// Subscribe(schema, TableFilter{}) monitors the whole schema.
type TableFilter struct {
	all    bool
	tables map[string]struct{}
}

// AllTables monitors every table of a schema.
func AllTables() TableFilter {
	return TableFilter{all: true}
}

// Tables monitors exactly the named tables. Tables() with no names monitors
// nothing, which is distinct from AllTables.
func Tables(names ...string) TableFilter {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return TableFilter{tables: set}
}

func (f TableFilter) matches(table string) bool {
	if f.all || f.tables == nil {
		return true
	}
	_, ok := f.tables[table]
	return ok
}

func (f TableFilter) names() []string {
	if f.all || f.tables == nil {
		return []string{}
	}
	out := make([]string, 0, len(f.tables))
	for n := range f.tables {
		out = append(out, n)
	}
	return out
}

// Registry maps schema names to table filters. A schema absent from the
// registry is not monitored. Safe for concurrent use: Subscribe and
// Unsubscribe may race with dispatch.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]TableFilter
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]TableFilter)}
}

// Subscribe records the filter for schema, overwriting any prior one.
func (r *Registry) Subscribe(schema string, filter TableFilter) {
	r.mu.Lock()
	r.schemas[schema] = filter
	r.mu.Unlock()
}

// Unsubscribe removes the schema entirely. Removing an unknown schema is a
// no-op.
func (r *Registry) Unsubscribe(schema string) {
	r.mu.Lock()
	delete(r.schemas, schema)
	r.mu.Unlock()
}

// IsMonitored reports whether changes to schema.table are of interest.
func (r *Registry) IsMonitored(schema, table string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	filter, ok := r.schemas[schema]
	if !ok {
		return false
	}
	return filter.matches(table)
}

// Len returns the number of subscribed schemas.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

// Snapshot projects the registry into the include-schema form the source
// consumes: one entry per schema, an empty slice meaning the whole schema.
// The result is never nil, so an empty registry forwards nothing.
func (r *Registry) Snapshot() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.schemas))
	for schema, filter := range r.schemas {
		out[schema] = filter.names()
	}
	return out
}
