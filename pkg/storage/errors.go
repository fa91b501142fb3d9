package storage

import "errors"

var (
	// ErrNotFound is returned when a trace id is unknown or has expired.
	ErrNotFound = errors.New("trace not found")
	// ErrStoreUnavailable wraps failures talking to the shared store.
	ErrStoreUnavailable = errors.New("trace store unavailable")
)
