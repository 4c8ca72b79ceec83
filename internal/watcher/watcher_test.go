package watcher

import (
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mysql-binlog-watcher/internal/models"
	"mysql-binlog-watcher/internal/source"
)

// fakeSource delivers records on demand and records every configuration it
// was given.
type fakeSource struct {
	mu      sync.Mutex
	handler source.Handler
	configs []source.Config
	stopped bool
	errs    chan error
}

func newFakeSource() *fakeSource {
	return &fakeSource{errs: make(chan error, 1)}
}

func (f *fakeSource) Start(cfg source.Config, h source.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeSource) Reconfigure(cfg source.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configs = append(f.configs, cfg)
	return nil
}

func (f *fakeSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeSource) Connection() *sql.DB { return nil }
func (f *fakeSource) Err() <-chan error   { return f.errs }

func (f *fakeSource) emit(rec *models.ChangeRecord) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(rec)
}

func (f *fakeSource) lastConfig() source.Config {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[len(f.configs)-1]
}

func newTestWatcher(t *testing.T) (*Watcher, *fakeSource) {
	t.Helper()
	src := newFakeSource()
	return New(src, Options{Logger: testLogger()}), src
}

func TestDispatchPreservesDeliveryOrder(t *testing.T) {
	w, src := newTestWatcher(t)
	require.NoError(t, w.Subscribe("shop", AllTables()))

	var tables []string
	_, err := w.On("shop.*.*", func(ev *Event) {
		tables = append(tables, ev.Table())
	})
	require.NoError(t, err)
	require.NoError(t, w.Start())

	src.emit(record("shop", "r1", models.OpInsert))
	src.emit(record("shop", "r2", models.OpUpdate))
	src.emit(record("shop", "r3", models.OpDelete))

	assert.Equal(t, []string{"r1", "r2", "r3"}, tables)
}

func TestNoEventsAfterStop(t *testing.T) {
	w, src := newTestWatcher(t)
	require.NoError(t, w.Subscribe("shop", AllTables()))

	var calls int
	_, err := w.On("*.*.*", func(*Event) { calls++ })
	require.NoError(t, err)
	require.NoError(t, w.Start())

	src.emit(record("shop", "orders", models.OpInsert))
	require.NoError(t, w.Stop())
	src.emit(record("shop", "orders", models.OpInsert))

	assert.Equal(t, 1, calls)
	assert.True(t, src.stopped)
	assert.Equal(t, StateStopped, w.State())
}

func TestPauseDropsInFlightRecords(t *testing.T) {
	w, src := newTestWatcher(t)
	require.NoError(t, w.Subscribe("shop", AllTables()))

	var calls int
	_, err := w.On("*.*.*", func(*Event) { calls++ })
	require.NoError(t, err)
	require.NoError(t, w.Start())
	require.NoError(t, w.Pause())

	// Pause reconfigures the source with an empty include set.
	paused := src.lastConfig()
	require.NotNil(t, paused.IncludeSchema)
	assert.Len(t, paused.IncludeSchema, 0)

	// A record already in flight is dropped by the state check.
	src.emit(record("shop", "orders", models.OpInsert))
	assert.Equal(t, 0, calls)

	// Start from paused restores the subscription filter.
	require.NoError(t, w.Start())
	assert.Contains(t, src.lastConfig().IncludeSchema, "shop")
	src.emit(record("shop", "orders", models.OpInsert))
	assert.Equal(t, 1, calls)
}

func TestLifecycleTransitionErrors(t *testing.T) {
	w, _ := newTestWatcher(t)

	assert.Error(t, w.Pause()) // stopped
	require.NoError(t, w.Start())
	assert.Error(t, w.Start()) // already running
	require.NoError(t, w.Pause())
	assert.Error(t, w.Pause()) // already paused
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop()) // stop is idempotent
}

func TestSubscribeWhileRunningReconfiguresSource(t *testing.T) {
	w, src := newTestWatcher(t)
	require.NoError(t, w.Subscribe("shop", Tables("orders")))
	require.NoError(t, w.Start())

	require.NoError(t, w.Subscribe("crm", AllTables()))
	cfg := src.lastConfig()
	assert.ElementsMatch(t, []string{"orders"}, cfg.IncludeSchema["shop"])
	assert.Empty(t, cfg.IncludeSchema["crm"])
	assert.Contains(t, cfg.IncludeSchema, "crm")

	require.NoError(t, w.Unsubscribe("shop"))
	assert.NotContains(t, src.lastConfig().IncludeSchema, "shop")
}

func TestDispatchFiltersUnsubscribedSchemas(t *testing.T) {
	w, src := newTestWatcher(t)
	require.NoError(t, w.Subscribe("shop", Tables("orders")))

	var calls int
	_, err := w.On("*.*.*", func(*Event) { calls++ })
	require.NoError(t, err)
	require.NoError(t, w.Start())

	// The source filter may lag the registry; dispatch still enforces it.
	src.emit(record("shop", "users", models.OpInsert))
	src.emit(record("other", "orders", models.OpInsert))
	src.emit(record("shop", "orders", models.OpInsert))

	assert.Equal(t, 1, calls)
	assert.True(t, w.IsMonitored("shop", "orders"))
	assert.False(t, w.IsMonitored("shop", "users"))
}
