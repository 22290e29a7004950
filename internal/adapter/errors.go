package adapter

import (
	"errors"
)

var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrTooLarge is returned when an upload exceeds the storage limits.
	ErrTooLarge = errors.New("content too large")

	// ErrUnauthorized is returned when the storage provider rejects the
	// user's credential.
	ErrUnauthorized = errors.New("storage access not authorized")
)
