package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidPayload  = errors.New("invalid payload")

	// ErrStoreUnavailable wraps any failure to reach or query the persistence layer.
	// The affected job is left untouched and the next poll rediscovers it.
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrReadDatabaseRow  = errors.New("failed to read database row")

	// Job lifecycle
	ErrClaimConflict    = errors.New("job already claimed by another poller")
	ErrJobNotProcessing = errors.New("job is not in processing state")

	// Provider gateway
	ErrProviderFailure     = errors.New("provider failure")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderUnavailable = errors.New("provider unavailable")

	// Scene regeneration
	ErrInvalidRegeneration = errors.New("invalid regeneration request")

	// Worker pool
	ErrQueueFull = errors.New("worker queue full")

	// Leases
	ErrLeaseHeld = errors.New("lease held by another instance")
)
