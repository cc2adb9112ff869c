package repository

import "errors"

// Sentinel kinds for persistence errors.
var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnsupportedDB = errors.New("unsupported database driver")
)
