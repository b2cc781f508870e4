package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var ErrLockNotAcquired = errors.New("redis lock not acquired")

// releaseScript deletes the lock only while it still carries our token, so a
// holder whose lease expired cannot free someone else's lock.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`)

const lockRetryInterval = 25 * time.Millisecond

// SessionLock is a per-session mutex shared by every process using the same
// redis. The lease outlives the wait timeout so a crashed holder blocks others
// for a bounded time only.
type SessionLock struct {
	client  *redis.Client
	timeout time.Duration
	lease   time.Duration
}

func NewSessionLock(client *redis.Client, timeout time.Duration) *SessionLock {
	return &SessionLock{
		client:  client,
		timeout: timeout,
		lease:   2 * timeout,
	}
}

func (l *SessionLock) Acquire(ctx context.Context, sessionID string) (func(), error) {
	key := SessionLockKey(sessionID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.timeout)

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lease).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, ErrLockNotAcquired
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}

	return func() {
		// release even when the caller's context is already cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("sessionId", sessionID).Msg("failed to release session lock")
		}
	}, nil
}
