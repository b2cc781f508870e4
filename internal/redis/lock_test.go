package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	opts, err := redis.ParseURL("redis://localhost:6379/15")
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Redis not available for testing")
	}
	client.FlushDB(ctx)
	return client
}

func TestSessionLock(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	t.Run("second holder times out until release", func(t *testing.T) {
		lock := NewSessionLock(client, 100*time.Millisecond)

		release, err := lock.Acquire(ctx, "s1")
		require.NoError(t, err)

		_, err = lock.Acquire(ctx, "s1")
		assert.ErrorIs(t, err, ErrLockNotAcquired)

		release()
		release2, err := lock.Acquire(ctx, "s1")
		require.NoError(t, err)
		release2()
	})

	t.Run("different sessions do not contend", func(t *testing.T) {
		lock := NewSessionLock(client, 100*time.Millisecond)

		r1, err := lock.Acquire(ctx, "s2")
		require.NoError(t, err)
		defer r1()
		r2, err := lock.Acquire(ctx, "s3")
		require.NoError(t, err)
		defer r2()
	})

	t.Run("stale release does not free a newer holder", func(t *testing.T) {
		lock := NewSessionLock(client, 50*time.Millisecond)

		release, err := lock.Acquire(ctx, "s4")
		require.NoError(t, err)

		// simulate lease expiry and a new holder
		require.NoError(t, client.Del(ctx, SessionLockKey("s4")).Err())
		newRelease, err := lock.Acquire(ctx, "s4")
		require.NoError(t, err)
		defer newRelease()

		release()
		exists, err := client.Exists(ctx, SessionLockKey("s4")).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), exists)
	})

	t.Run("cancelled context stops waiting", func(t *testing.T) {
		lock := NewSessionLock(client, time.Second)

		release, err := lock.Acquire(ctx, "s5")
		require.NoError(t, err)
		defer release()

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err = lock.Acquire(cctx, "s5")
		assert.Error(t, err)
	})
}

func TestSessionLockKey(t *testing.T) {
	assert.Equal(t, "lock:call_log:whatsapp_6281", SessionLockKey("whatsapp_6281"))
}
