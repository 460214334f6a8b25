package domain

import "errors"

// Sentinel errors returned by the store and checked by the execution engine.
var (
	// ErrNotFound indicates the requested job does not exist.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidID indicates the provided job ID is not a valid UUID.
	ErrInvalidID = errors.New("invalid job ID format")

	// ErrJobOwnershipLost indicates a write lost its claim on a job between
	// reading it and writing back to it — another transaction mutated or
	// finalized the row first. The claim loop treats this as "no job" and
	// moves on rather than surfacing it as a failure.
	ErrJobOwnershipLost = errors.New("job ownership lost")
)
