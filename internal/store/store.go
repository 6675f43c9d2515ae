// Package store holds the gorm-backed table adapters. Every state-machine
// transition in the service is expressed as one of the primitives here:
// get-by-key, upsert-by-key, conditional update, or insert-unique. The
// conditional update reports zero rows affected as ErrNoMatch, which is
// distinct from a write error and is what makes the transitions race-safe
// across service instances.
package store

import "errors"

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("store: row not found")

	// ErrNoMatch is returned by conditional updates when the predicate
	// matched no row. The row may not exist, may be owned by someone
	// else, or may already have left the expected state; callers cannot
	// and must not distinguish.
	ErrNoMatch = errors.New("store: no row matched condition")

	// ErrAlreadyExists is returned by unique inserts when a row with the
	// same unique key is already present.
	ErrAlreadyExists = errors.New("store: row already exists")
)
