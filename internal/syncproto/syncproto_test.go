package syncproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabspace/collabd/internal/crdt"
)

func TestEncodeDecodeStep1RoundTrip(t *testing.T) {
	vector := crdt.StateVector([]byte{1, 2, 3})
	frame := EncodeSyncFrame(Step1(vector))

	tag, body, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, TagSync, tag)

	msg, err := DecodeSync(body)
	require.NoError(t, err)
	assert.Equal(t, KindStep1, msg.Kind)
	assert.Equal(t, vector, msg.Vector)
}

func TestEncodeDecodeUpdateRoundTrip(t *testing.T) {
	update := crdt.NewLocalOp(1, 7, []byte("payload"))
	frame := EncodeSyncFrame(Update(update))

	_, body, err := DecodeFrame(frame)
	require.NoError(t, err)

	msg, err := DecodeSync(body)
	require.NoError(t, err)
	assert.Equal(t, KindUpdate, msg.Kind)
	assert.Equal(t, update, msg.Update)
}

func TestDecodeFrameRejectsEmpty(t *testing.T) {
	_, _, err := DecodeFrame(nil)
	assert.Error(t, err)
}

func TestDecodeSyncRejectsUnknownKind(t *testing.T) {
	_, err := DecodeSync([]byte{99})
	assert.Error(t, err)
}

func TestAwarenessFrameRoundTrip(t *testing.T) {
	update := crdt.AwarenessUpdate{
		1: {Clock: 3, State: []byte(`{"name":"ada"}`)},
	}
	frame, err := EncodeAwarenessFrame(update)
	require.NoError(t, err)

	tag, body, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, TagAwareness, tag)

	decoded, err := crdt.DecodeAwarenessUpdate(body)
	require.NoError(t, err)
	assert.Equal(t, update[1].Clock, decoded[1].Clock)
}
