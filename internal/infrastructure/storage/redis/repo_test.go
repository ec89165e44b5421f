package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flipwatch/internal/domain/model"
)

func TestNewKeyLayout(t *testing.T) {
	r := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "flipwatch:", 0, "", "")
	assert.Equal(t, "flipwatch:sync_events", r.eventStream)
	assert.Equal(t, "flipwatch:sync_events:pub", r.eventChannel)
	assert.Equal(t, "flipwatch:sync:o1:buybox", r.key("sync:o1:buybox"))
	assert.Equal(t, 10*time.Minute, r.lockTTL)
}

func TestUnreachableServerReturnsErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	r := New(rdb, "test", time.Minute, "events", "")
	ctx := context.Background()

	assert.Error(t, r.Send(ctx, model.Event{ID: "e1", Kind: model.EventStart, At: time.Now()}))
	unlock, ok, err := r.TryLock(ctx, "sync:o1:buybox")
	assert.Error(t, err)
	assert.False(t, ok)
	assert.Nil(t, unlock)
}

// requires FLIPWATCH_TEST_REDIS_ADDR
func TestLockAndSendLive(t *testing.T) {
	addr := os.Getenv("FLIPWATCH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLIPWATCH_TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	r := New(rdb, "flipwatch-test", time.Minute, "events", "")
	ctx := context.Background()
	require.NoError(t, r.Ping(ctx))

	unlock, ok, err := r.TryLock(ctx, "lock-live")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = r.TryLock(ctx, "lock-live")
	require.NoError(t, err)
	assert.False(t, ok, "second holder must be refused")

	unlock()
	unlock2, ok, err := r.TryLock(ctx, "lock-live")
	require.NoError(t, err)
	assert.True(t, ok)
	unlock2()

	require.NoError(t, r.Send(ctx, model.Event{ID: "e1", Kind: model.EventComplete, OwnerID: "o1", Source: model.SourceBuyBox, At: time.Now()}))
	n, err := rdb.XLen(ctx, r.eventStream).Result()
	require.NoError(t, err)
	assert.Positive(t, n)
}
