package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a document or run record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnsafePath is returned for paths that are absolute or escape the
	// repository root.
	ErrUnsafePath = errors.New("Refusing unsafe path")
)
