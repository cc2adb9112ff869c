package api

import (
	"github.com/okian/tally/internal/domain/dedupe"
	"github.com/okian/tally/pkg/logger"
)

// Option configures a Server.
type Option func(*Server)

// WithDeduper enables Idempotency-Key handling on POST /events.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Server) {
		s.deduper = d
	}
}

// WithVerifier enables bearer token authentication. Without a verifier every
// request is unauthenticated.
func WithVerifier(v Verifier) Option {
	return func(s *Server) {
		s.verifier = v
	}
}

// WithLogger sets the logger used by the handlers.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}
