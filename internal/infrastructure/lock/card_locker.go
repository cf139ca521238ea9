package lock

import (
	"context"
	"time"

	"arcadepay/internal/ledger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RedisLocker is a ledger.Locker shared by every service instance.
type RedisLocker struct {
	client        redis.Cmdable
	ttl           time.Duration
	retryInterval time.Duration
	newToken      func() string
	log           logrus.FieldLogger
}

var _ ledger.Locker = (*RedisLocker)(nil)

func NewRedisLocker(client redis.Cmdable, ttl time.Duration, log logrus.FieldLogger) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: 20 * time.Millisecond,
		newToken:      uuid.NewString,
		log:           log,
	}
}

// Lock waits for the card lock for at most one TTL.
func (r *RedisLocker) Lock(ctx context.Context, cardID int64) (func(), error) {
	l := NewCardLock(r.client, cardID, r.newToken(), r.ttl)
	attempts := int(r.ttl/r.retryInterval) + 1
	if err := l.Lock(ctx, r.retryInterval, attempts); err != nil {
		return nil, err
	}
	return func() {
		// the caller may already be cancelled; release anyway
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := l.Unlock(ctx); err != nil {
			r.log.WithError(err).WithField("card_id", cardID).Warn("release card lock")
		}
	}, nil
}
