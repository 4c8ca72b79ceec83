package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubscribeAllTables(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("shop", AllTables())

	assert.True(t, r.IsMonitored("shop", "orders"))
	assert.True(t, r.IsMonitored("shop", "anything_at_all"))
	assert.False(t, r.IsMonitored("other", "orders"))
}

func TestSubscribeExplicitTables(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("shop", Tables("t1", "t2"))

	assert.True(t, r.IsMonitored("shop", "t1"))
	assert.True(t, r.IsMonitored("shop", "t2"))
	assert.False(t, r.IsMonitored("shop", "t3"))
}

func TestZeroFilterBehavesLikeAllTables(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("shop", TableFilter{})

	assert.True(t, r.IsMonitored("shop", "orders"))
}

func TestEmptyTablesMonitorsNothing(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("shop", Tables())

	assert.False(t, r.IsMonitored("shop", "orders"))
	// The schema itself is still subscribed though.
	assert.Equal(t, 1, r.Len())
}

func TestResubscribeOverwrites(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("shop", Tables("t1"))
	r.Subscribe("shop", Tables("t2"))

	assert.False(t, r.IsMonitored("shop", "t1"))
	assert.True(t, r.IsMonitored("shop", "t2"))
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("keep", AllTables())
	before := r.Snapshot()

	r.Subscribe("shop", Tables("t1", "t2"))
	r.Unsubscribe("shop")

	assert.Equal(t, before, r.Snapshot())
	assert.False(t, r.IsMonitored("shop", "t1"))
	assert.True(t, r.IsMonitored("keep", "anything"))
}

func TestUnsubscribeUnknownSchemaIsNoOp(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("shop", AllTables())

	r.Unsubscribe("missing")
	r.Unsubscribe("missing") // twice in a row, still fine

	assert.Equal(t, 1, r.Len())
	assert.True(t, r.IsMonitored("shop", "orders"))
}

func TestSnapshotShape(t *testing.T) {
	r := NewRegistry()
	r.Subscribe("all", AllTables())
	r.Subscribe("some", Tables("a", "b"))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Empty(t, snap["all"])
	assert.ElementsMatch(t, []string{"a", "b"}, snap["some"])

	// Empty registry projects to an empty, non-nil map.
	empty := NewRegistry().Snapshot()
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)
}
