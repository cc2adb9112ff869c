package flusher

import "errors"

// Sentinel kinds for flusher errors.
var (
	ErrFlushFailed     = errors.New("flush failed")
	ErrShutdownTimeout = errors.New("flusher shutdown timed out")
)
