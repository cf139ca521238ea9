package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// ============================================================================
// Redis card lock
// ============================================================================
//
// Several service instances can write to the same card. Without a shared lock:
//
//   instance A: read balance=10 -> debit 10 -> CAS ok, balance=0
//   instance B: read balance=10 -> debit 10 -> CAS fails, retry, re-read...
//
// The versioned UPDATE keeps the balance correct either way; the lock keeps
// writers of one card in line so they queue here instead of burning retries
// against the database.
//
// Protocol:
//
//   acquire: SET key token NX PX ttl
//     - NX: only one holder at a time
//     - PX: a crashed holder blocks the card for at most ttl
//     - token: unique per acquisition, checked on release
//
//   release: GET + compare + DEL in one Lua script.
//     A holder whose lease expired must not delete the lock of the next one:
//     A locks -> A stalls, lease expires -> B locks -> A unlocks.
//     Without the token check A would delete B's lock.
//
// ============================================================================

var ErrLockFailed = errors.New("failed to acquire distributed lock")

const unlockScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

type DistributedLock struct {
	client     redis.Cmdable
	key        string
	value      string
	expiration time.Duration
}

func NewDistributedLock(client redis.Cmdable, key, value string, expiration time.Duration) *DistributedLock {
	return &DistributedLock{
		client:     client,
		key:        key,
		value:      value,
		expiration: expiration,
	}
}

// TryLock makes a single non-blocking attempt.
func (l *DistributedLock) TryLock(ctx context.Context) (bool, error) {
	return l.client.SetNX(ctx, l.key, l.value, l.expiration).Result()
}

// Lock polls until the lock is acquired, ctx is done or maxRetries attempts failed.
func (l *DistributedLock) Lock(ctx context.Context, retryInterval time.Duration, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		success, err := l.TryLock(ctx)
		if err != nil {
			return err
		}
		if success {
			return nil
		}
		timer := time.NewTimer(retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrLockFailed
}

func (l *DistributedLock) Unlock(ctx context.Context) error {
	return l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Err()
}

func CardLockKey(cardID int64) string {
	return fmt.Sprintf("arcadepay:lock:card:%d", cardID)
}

// NewCardLock returns the lock guarding writes to one card. token must be
// unique per acquisition.
func NewCardLock(client redis.Cmdable, cardID int64, token string, ttl time.Duration) *DistributedLock {
	return NewDistributedLock(client, CardLockKey(cardID), token, ttl)
}
