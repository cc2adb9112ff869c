package flusher

import (
	"time"

	"github.com/okian/tally/pkg/logger"
)

// Option applies a configuration option to the Flusher.
type Option func(*Flusher)

// WithInterval sets the periodic flush tick.
func WithInterval(d time.Duration) Option {
	return func(f *Flusher) {
		if d > 0 {
			f.interval = d
		}
	}
}

// WithThreshold sets the queue length that triggers an immediate flush.
func WithThreshold(n int) Option {
	return func(f *Flusher) {
		if n > 0 {
			f.threshold = n
		}
	}
}

// WithBackoff bounds the delay imposed on scheduled flushes after a failure.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(f *Flusher) {
		if initial > 0 {
			f.backoff.InitialInterval = initial
		}
		if maxDelay >= f.backoff.InitialInterval {
			f.backoff.MaxInterval = maxDelay
		}
	}
}

// WithJitter sets the backoff randomization factor in [0,1).
func WithJitter(factor float64) Option {
	return func(f *Flusher) {
		if factor >= 0 && factor < 1 {
			f.backoff.RandomizationFactor = factor
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(f *Flusher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides time.Now for the retry gate.
func WithClock(now func() time.Time) Option {
	return func(f *Flusher) {
		if now != nil {
			f.now = now
		}
	}
}
