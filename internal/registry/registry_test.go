package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabspace/collabd/internal/bus"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/syncproto"
)

func newTestRegistry(cfg Config) *Registry {
	b := bus.NewMemoryBus(bus.NewMemoryBroker(), "instance-a")
	return New(b, nil, cfg)
}

func TestGetCreatesHubOnFirstOpen(t *testing.T) {
	r := newTestRegistry(Config{})
	h, err := r.Get(context.Background(), "doc1")
	require.NoError(t, err)
	assert.NotNil(t, h)
	assert.Equal(t, 1, r.Len())
}

func TestGetReturnsSameHubForConcurrentFirstOpen(t *testing.T) {
	r := newTestRegistry(Config{})

	var wg sync.WaitGroup
	results := make([]interface{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			h, err := r.Get(context.Background(), "doc1")
			require.NoError(t, err)
			results[idx] = h
		}(i)
	}
	wg.Wait()

	first := results[0]
	for _, r := range results {
		assert.Same(t, first, r)
	}
	assert.Equal(t, 1, r.Len())
}

func TestCapacityRejectsBeyondMaxHubs(t *testing.T) {
	r := newTestRegistry(Config{MaxHubs: 1})
	_, err := r.Get(context.Background(), "doc1")
	require.NoError(t, err)

	_, err = r.Get(context.Background(), "doc2")
	require.Error(t, err)
	assert.True(t, collaberrors.Is(err, collaberrors.KindCapacity))
}

func TestForceRemoveFailsWithActiveClients(t *testing.T) {
	r := newTestRegistry(Config{})
	h, err := r.Get(context.Background(), "doc1")
	require.NoError(t, err)

	client := &stubClient{}
	_, err = h.Register(client)
	require.NoError(t, err)

	err = r.ForceRemove("doc1")
	require.Error(t, err)
	assert.True(t, collaberrors.Is(err, collaberrors.KindActiveClients))
}

func TestReleaseExpiresIdleHub(t *testing.T) {
	r := newTestRegistry(Config{IdleGrace: 10 * time.Millisecond, IdleJitterMax: 1 * time.Millisecond})
	h, err := r.Get(context.Background(), "doc1")
	require.NoError(t, err)

	r.Release("doc1", h)
	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDrainNotifiesThenClosesClients(t *testing.T) {
	r := newTestRegistry(Config{})
	h, err := r.Get(context.Background(), "doc1")
	require.NoError(t, err)

	client := &stubClient{}
	_, err = h.Register(client)
	require.NoError(t, err)

	r.Drain(1 * time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	require.NotEmpty(t, client.frames)
	assert.Equal(t, syncproto.EncodeControlFrame(syncproto.ControlShutdown), client.frames[len(client.frames)-1], "client must receive a shutdown notification before being closed")
	assert.Equal(t, collaberrors.KindShutdown, client.closed)
}

type stubClient struct {
	id uint64

	mu     sync.Mutex
	frames [][]byte
	closed collaberrors.Kind
}

func (c *stubClient) ID() uint64      { return c.id }
func (c *stubClient) SetID(id uint64) { c.id = id }

func (c *stubClient) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *stubClient) Close(kind collaberrors.Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = kind
}
