package backplane

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	client := NewFromRedis(rdb)

	return client, func() {
		rdb.Close()
		mr.Close()
	}
}

func TestTryLockGrantsExclusiveAccess(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx := context.Background()
	first, err := client.TryLock(ctx, "doc1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	second, err := client.TryLock(ctx, "doc1", time.Minute)
	require.NoError(t, err)
	require.False(t, second, "a second TryLock on the same key must fail while the lock is held")
}

func TestUnlockReleasesLock(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx := context.Background()
	_, err := client.TryLock(ctx, "doc1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, client.Unlock(ctx, "doc1"))

	reacquired, err := client.TryLock(ctx, "doc1", time.Minute)
	require.NoError(t, err)
	require.True(t, reacquired)
}

func TestPresenceRoundTrip(t *testing.T) {
	client, cleanup := setupTestClient(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, client.PutPresence(ctx, "instance-a", map[string]int{"doc1": 3}, time.Minute))

	snapshots, err := client.ListPresence(ctx)
	require.NoError(t, err)
	require.Contains(t, snapshots, "collab:presence:instance-a")
}

func TestDisabledClientIsInert(t *testing.T) {
	client, err := NewClient(Config{Enabled: false})
	require.NoError(t, err)
	require.False(t, client.Enabled())

	ctx := context.Background()
	ok, err := client.TryLock(ctx, "doc1", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
}
