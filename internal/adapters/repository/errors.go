package repository

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrNotFound          = errors.New("result not found")
	ErrPersist           = errors.New("failed to persist result")
	ErrInvalidLimit      = errors.New("invalid list limit")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
