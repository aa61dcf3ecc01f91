package storage

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed is returned when connection to storage fails
	ErrConnectionFailed = errors.New("connection failed")

	// ErrQueryFailed is returned when a query fails
	ErrQueryFailed = errors.New("query failed")

	// ErrNotFound is returned when a record or setting is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidRecord is returned when a record fails validation
	ErrInvalidRecord = errors.New("invalid record")

	// ErrClosed is returned when attempting to use a closed store
	ErrClosed = errors.New("store is closed")
)
