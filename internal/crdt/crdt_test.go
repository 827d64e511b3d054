package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyIsIdempotent(t *testing.T) {
	r := NewReplica()
	blob := NewLocalOp(1, 42, []byte("hello"))

	require.NoError(t, r.Apply(blob, "local"))
	sv1 := r.StateVector()

	require.NoError(t, r.Apply(blob, "local"))
	sv2 := r.StateVector()

	assert.Equal(t, sv1, sv2)
	assert.Len(t, r.ops, 1)
}

func TestConvergenceAcrossOrder(t *testing.T) {
	b1 := NewLocalOp(1, 1, []byte("a"))
	b2 := NewLocalOp(1, 2, []byte("b"))

	r1 := NewReplica()
	require.NoError(t, r1.Apply(b1, "local"))
	require.NoError(t, r1.Apply(b2, "bus"))

	r2 := NewReplica()
	require.NoError(t, r2.Apply(b2, "local"))
	require.NoError(t, r2.Apply(b1, "bus"))

	assert.Equal(t, r1.StateVector(), r2.StateVector())

	diff, err := r1.EncodeDiff(r2.StateVector())
	require.NoError(t, err)
	assert.True(t, IsEmptyUpdate(diff))
}

func TestEncodeDiffReturnsOnlyMissingOps(t *testing.T) {
	server := NewReplica()
	require.NoError(t, server.Apply(NewLocalOp(1, 1, []byte("a")), "local"))
	require.NoError(t, server.Apply(NewLocalOp(2, 1, []byte("b")), "local"))

	client := NewReplica()
	empty := client.StateVector()

	diff, err := server.EncodeDiff(empty)
	require.NoError(t, err)
	require.NoError(t, client.Apply(diff, "bus"))

	assert.Equal(t, server.StateVector(), client.StateVector())

	require.NoError(t, server.Apply(NewLocalOp(3, 1, []byte("c")), "local"))
	diff, err = server.EncodeDiff(client.StateVector())
	require.NoError(t, err)
	ops, err := decodeOps(diff)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, uint64(3), ops[0].Counter)
}

func TestChangeHandlerFiresOncePerCommit(t *testing.T) {
	r := NewReplica()
	var calls int
	var lastOrigin string
	r.OnChange(func(blob UpdateBlob, origin string) {
		calls++
		lastOrigin = origin
	})

	require.NoError(t, r.Apply(NewLocalOp(1, 1, []byte("x")), "client-1"))
	require.NoError(t, r.Apply(NewLocalOp(1, 1, []byte("x")), "client-1")) // duplicate, no-op

	assert.Equal(t, 1, calls)
	assert.Equal(t, "client-1", lastOrigin)
}

func TestAwarenessMergeHonorsClock(t *testing.T) {
	a := NewAwareness()

	changed, removed := a.Merge(AwarenessUpdate{
		7: {Clock: 1, State: []byte(`{"name":"ada"}`)},
	})
	assert.Equal(t, []uint64{7}, changed)
	assert.Empty(t, removed)

	// stale clock is ignored
	changed, removed = a.Merge(AwarenessUpdate{
		7: {Clock: 1, State: []byte(`{"name":"stale"}`)},
	})
	assert.Empty(t, changed)
	assert.Empty(t, removed)

	// higher clock with nil state removes the entry
	changed, removed = a.Merge(AwarenessUpdate{
		7: {Clock: 2, State: nil},
	})
	assert.Empty(t, changed)
	assert.Equal(t, []uint64{7}, removed)
	assert.Equal(t, 0, a.Len())
}
