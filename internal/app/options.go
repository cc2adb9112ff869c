package service

import (
	"time"

	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithGateway sets where events and sessions are persisted. The service
// closes it on Stop.
func WithGateway(g repository.Gateway) Option {
	return func(s *Service) {
		s.gateway = g
	}
}

// WithResolver sets how the current user is found. The default reads the
// user id placed on the context by the HTTP auth middleware.
func WithResolver(r auth.Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithAnonymousUserID attributes unauthenticated events to id instead of
// dropping them.
func WithAnonymousUserID(id string) Option {
	return func(s *Service) {
		s.anonymousUserID = id
	}
}

// WithFlushInterval sets the periodic flush interval.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.flushInterval = d
		}
	}
}

// WithBatchThreshold sets how many queued events trigger an early flush.
func WithBatchThreshold(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchThreshold = n
		}
	}
}

// WithQueueCapacity bounds the event queue. 0 leaves it unbounded.
func WithQueueCapacity(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.queueCapacity = n
		}
	}
}

// WithBackoff sets the retry delay bounds after a failed flush.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(s *Service) {
		if initial > 0 && maxDelay >= initial {
			s.retryInitial = initial
			s.retryMax = maxDelay
		}
	}
}

// WithDedupeSize sets how many idempotency keys are remembered.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}
