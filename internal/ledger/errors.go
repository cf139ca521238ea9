package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrInvalidAmount       = fmt.Errorf("%w: amount must be a positive decimal with at most 2 fractional digits", ErrInvalidInput)
	ErrCardNotFound        = errors.New("card not found")
	ErrDuplicateCardNumber = errors.New("card number already exists")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrStoreFailure        = errors.New("store failure")

	// ErrConflict is returned by stores when a concurrent writer won the race
	// (stale version, deadlock, serialization failure). The ledger retries it.
	ErrConflict = errors.New("concurrent update conflict")
)

// Classify maps an error returned by a Store to the ledger error taxonomy.
// Business errors and context errors pass through untouched.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrCardNotFound),
		errors.Is(err, ErrDuplicateCardNumber),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrStoreFailure),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
}

// resultLabel is the metrics label for an operation outcome.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCardNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateCardNumber):
		return "duplicate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "store_failure"
	}
}
