// Package memory implements the agent's memory stream, time-weighted
// retrieval, importance scoring and reflection.
package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest is returned when an interaction fails validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrAdapterFailure wraps failures of the store, embedding or language model adapters.
	ErrAdapterFailure = errors.New("adapter failure")
	// ErrScoringDegraded is logged when importance falls back to DefaultImportance.
	// It is never returned to callers.
	ErrScoringDegraded = errors.New("scoring degraded")
)

func adapterFailure(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, ErrAdapterFailure, err)
}
