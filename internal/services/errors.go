package services

import (
	"errors"
	"fmt"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrAccountNotFound     = errors.New("account not found")
	ErrAccountInactive     = errors.New("account inactive")
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrIdempotencyKeyReuse is also an ErrValidation.
	ErrIdempotencyKeyReuse = fmt.Errorf("%w: idempotency key reused with different parameters", ErrValidation)

	ErrLockTimeout      = errors.New("account lock not acquired in time")
	ErrLeaseLost        = errors.New("account lock lease lost, outcome unknown")
	ErrBusy             = errors.New("account busy")
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// IsRetryable reports whether the caller may repeat the same request, with
// the same bizId, and expect a different outcome.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrLeaseLost) ||
		errors.Is(err, ErrBusy) ||
		errors.Is(err, ErrStoreUnavailable)
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
