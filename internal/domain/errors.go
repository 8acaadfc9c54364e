package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrRateLimited   = errors.New("rate limited")
	ErrOrderRejected = errors.New("order rejected")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrSigningFailed = errors.New("signing failed")
	ErrQuarantined   = errors.New("strategy quarantined")
	ErrUnbalanced    = errors.New("position unbalanced")
	ErrPriceSanity   = errors.New("price outside sanity band")
	ErrLockHeld      = errors.New("lock already held")
)

// IsRateLimited reports whether err is, or wraps, a venue 429.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimited) }

// IsOrderRejected reports whether err is, or wraps, a venue order rejection.
// Rejected legs are never auto-retried.
func IsOrderRejected(err error) bool { return errors.Is(err, ErrOrderRejected) }
