package service

import "errors"

// Sentinel errors for the service lifecycle.
var (
	ErrNoGateway  = errors.New("no persistence gateway configured")
	ErrNotStarted = errors.New("service not started")
)
