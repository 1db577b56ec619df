package models

import (
	"context"
	"errors"
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrLockTimeout        = errors.New("account lock acquisition timed out")
	ErrInsufficientFunds  = errors.New("insufficient funds")
)

// IsInfrastructure reports whether err is a retryable infrastructure failure
// rather than a business outcome.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
