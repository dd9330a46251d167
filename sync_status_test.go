package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/healthbridge/bridge/config"
	"github.com/healthbridge/bridge/model"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCachedBridge(t *testing.T) (*Bridge, *memStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newMemStore()
	b := NewBridgeWithOptions(store, config.SyncConfig{StatusCacheTTL: time.Minute}, WithRedis(client))
	return b, store, mr
}

func TestGetStatus_ServedFromCache(t *testing.T) {
	b, store, mr := newCachedBridge(t)
	ctx := context.Background()
	userID := gofakeit.UUID()

	item := stage(t, b, userID, model.ActionCreate, model.EntityHabitEntry, habitPayload(t))

	status, err := b.GetStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
	assert.True(t, mr.Exists(statusCacheKey(userID)))

	// A change made behind the service's back is not seen until expiry.
	store.setState(item.ItemID, model.StatusSynced, 0, time.Now())
	status, err = b.GetStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)
}

func TestGetStatus_InvalidatedByQueueChanges(t *testing.T) {
	b, _, mr := newCachedBridge(t)
	ctx := context.Background()
	userID := gofakeit.UUID()

	stage(t, b, userID, model.ActionCreate, model.EntityHabitEntry, habitPayload(t))
	status, err := b.GetStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Pending)

	stage(t, b, userID, model.ActionCreate, model.EntityHabitEntry, habitPayload(t))
	assert.False(t, mr.Exists(statusCacheKey(userID)))

	status, err = b.GetStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 2, status.Pending)

	_, err = b.ProcessBatch(ctx, userID, 50)
	require.NoError(t, err)

	status, err = b.GetStatus(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Pending)
	assert.Equal(t, 2, status.Synced)
}

func TestGetStatus_KeyedPerUser(t *testing.T) {
	b, _, _ := newCachedBridge(t)
	ctx := context.Background()

	stage(t, b, "alice", model.ActionCreate, model.EntityHabitEntry, habitPayload(t))

	alice, err := b.GetStatus(ctx, "alice")
	require.NoError(t, err)
	bob, err := b.GetStatus(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, 1, alice.Pending)
	assert.Equal(t, 0, bob.Pending)
}
