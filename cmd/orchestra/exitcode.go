package main

import (
	"errors"

	"orchestra/internal/store"
)

// Exit codes for the engine-facing API (SPEC_FULL §6): 0 success, 1 generic
// error, 2 validation failure, 3 not found. The teacher's own CLI only ever
// exits 0/1; this finer-grained mapping is this repo's own addition, not a
// teacher convention (see DESIGN.md).
const (
	exitOK         = 0
	exitGeneric    = 1
	exitValidation = 2
	exitNotFound   = 3
)

// validationError marks an error as a validation failure (exit code 2)
// rather than a generic one.
type validationError struct {
	err error
}

func (e *validationError) Error() string { return e.err.Error() }
func (e *validationError) Unwrap() error { return e.err }

func asValidationError(err error) error {
	if err == nil {
		return nil
	}
	return &validationError{err: err}
}

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}
	var ve *validationError
	if errors.As(err, &ve) {
		return exitValidation
	}
	if errors.Is(err, store.ErrNotFound) {
		return exitNotFound
	}
	return exitGeneric
}
