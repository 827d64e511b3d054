package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		DocumentID: "doc1",
		Kind:       KindUpdate,
		Payload:    []byte("hello"),
		InstanceID: "instance-a",
		MessageID:  "m1",
		Timestamp:  123,
	}

	data, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(data)
	require.NoError(t, err)
	assert.Equal(t, env.DocumentID, decoded.DocumentID)
	assert.Equal(t, env.Payload, decoded.Payload)
}

func TestReassemblerCompletesOnAllChunks(t *testing.T) {
	ra := newReassembler(time.Second)
	base := Envelope{MessageID: "m1", TotalChunks: 2}

	_, complete := ra.Add(withChunk(base, 0, []byte("ab")))
	assert.False(t, complete)

	payload, complete := ra.Add(withChunk(base, 1, []byte("cd")))
	assert.True(t, complete)
	assert.Equal(t, []byte("abcd"), payload)
}

func TestReassemblerDropsAfterTimeout(t *testing.T) {
	ra := newReassembler(10 * time.Millisecond)
	base := Envelope{MessageID: "m2", TotalChunks: 2}

	ra.Add(withChunk(base, 0, []byte("ab")))
	time.Sleep(20 * time.Millisecond)

	_, complete := ra.Add(withChunk(base, 1, []byte("cd")))
	// the first chunk was evicted by the timeout, so this looks like a
	// fresh partial set missing chunk 0 - not complete.
	assert.False(t, complete)
}

func withChunk(base Envelope, index int, payload []byte) Envelope {
	e := base
	e.ChunkIndex = index
	e.Payload = payload
	e.Chunked = true
	return e
}

func TestMemoryBusSuppressesOwnEcho(t *testing.T) {
	broker := NewMemoryBroker()
	a := NewMemoryBus(broker, "instance-a")

	var delivered int
	_, err := a.Subscribe("doc1", func(Envelope) { delivered++ })
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), "doc1", KindUpdate, []byte("x"), ""))
	assert.Equal(t, 0, delivered, "own publish must not be delivered back")
}

func TestMemoryBusDeliversAcrossInstances(t *testing.T) {
	broker := NewMemoryBroker()
	a := NewMemoryBus(broker, "instance-a")
	b := NewMemoryBus(broker, "instance-b")

	received := make(chan Envelope, 1)
	_, err := b.Subscribe("doc1", func(e Envelope) { received <- e })
	require.NoError(t, err)

	require.NoError(t, a.Publish(context.Background(), "doc1", KindUpdate, []byte("payload"), "client-1"))

	select {
	case env := <-received:
		assert.Equal(t, []byte("payload"), env.Payload)
		assert.Equal(t, "instance-a", env.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cross-instance delivery")
	}
}
