package domain

import "errors"

var (
	// ErrValidation marks invalid caller input; nothing is persisted.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write collides with existing state,
	// e.g. a duplicate item outcome report.
	ErrConflict = errors.New("conflict")
	// ErrSubmission marks enqueue failures during batch submission. Partial
	// failure is tolerated; total failure is fatal to the batch.
	ErrSubmission = errors.New("submission failed")
)
