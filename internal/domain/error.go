package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrReadDatabaseRow    = errors.New("failed to read database row")

	// Edit lifecycle
	ErrInvalidTransition = errors.New("invalid job state transition")
	ErrRetryNotAllowed   = errors.New("job cannot be retried")
	ErrJobInFlight       = errors.New("job is already running")
	ErrAlreadyRecorded   = errors.New("job outcome already recorded")
	ErrNoPendingImage    = errors.New("no pending image for user")

	// Infrastructure
	ErrSessionClosed   = errors.New("provider session closed")
	ErrLockNotAcquired = errors.New("lock not acquired")
)
