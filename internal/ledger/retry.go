package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

const (
	defaultMaxRetries     = 5
	defaultRetryBaseDelay = 5 * time.Millisecond
	defaultRetryMaxDelay  = 200 * time.Millisecond
)

// newConflictRetryPolicy retries only ErrConflict. Business errors and
// context errors end the attempt loop immediately.
func newConflictRetryPolicy(maxRetries int, base, maxDelay time.Duration) retrypolicy.RetryPolicy[any] {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = defaultRetryBaseDelay
	}
	if maxDelay <= base {
		maxDelay = base * 2
	}
	return retrypolicy.NewBuilder[any]().
		WithBackoff(base, maxDelay).
		WithMaxRetries(maxRetries).
		WithJitterFactor(0.1).
		HandleIf(func(_ any, err error) bool {
			return errors.Is(err, ErrConflict)
		}).
		ReturnLastFailure().
		Build()
}

// inTx runs fn in a store transaction, retrying on conflicts.
func (l *Ledger) inTx(ctx context.Context, op string, fn func(tx Tx) error) error {
	attempts := 0
	err := failsafe.With(l.retry).WithContext(ctx).Run(func() error {
		attempts++
		return l.store.InTx(ctx, fn)
	})
	if attempts > 1 {
		l.log.WithField("op", op).WithField("attempts", attempts).Debug("ledger transaction retried")
	}
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w: retries exhausted: %w", ErrStoreFailure, err)
	}
	return Classify(err)
}
