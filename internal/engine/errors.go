package engine

import "errors"

var (
	// ErrNotFound means no record has the requested id.
	ErrNotFound = errors.New("not found")
	// ErrTypeMismatch means an operation was applied to the wrong memory type.
	ErrTypeMismatch = errors.New("type mismatch")
	// ErrValidation means an argument was malformed.
	ErrValidation = errors.New("validation failed")
	// ErrIndexUnavailable means no embedder is configured or it failed.
	// Full-text search and filters keep working.
	ErrIndexUnavailable = errors.New("semantic index unavailable")
)
