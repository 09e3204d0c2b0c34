package model

import "errors"

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrForbidden        = errors.New("forbidden")
	ErrConflict         = errors.New("order state does not allow this operation")
	ErrValidationFailed = errors.New("invalid order data")
	ErrNoFieldsToUpdate = errors.New("no fields to update")

	// ErrStoreWriteFailed is returned when a write transaction was rolled back.
	ErrStoreWriteFailed = errors.New("store write failed")
	// ErrStoreUnavailable is returned when no pooled connection could be acquired in time.
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrCacheMiss        = errors.New("cache miss")
	ErrCacheUnavailable = errors.New("cache unavailable")

	ErrUnauthorized    = errors.New("unauthorized")
	ErrAuthUnavailable = errors.New("authentication service unavailable")
)
