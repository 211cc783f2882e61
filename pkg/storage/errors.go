package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrNotFound is returned when a user, tenant, key, or provider
	// configuration does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a record with the same unique key
	// already exists.
	ErrConflict = errors.New("record already exists")
)
