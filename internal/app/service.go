// Package service wires the event pipeline, session tracking and persistence
// into the dependencies required by the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/tally/internal/adapters/mq/flusher"
	eventqueue "github.com/okian/tally/internal/adapters/mq/queue"
	"github.com/okian/tally/internal/adapters/repository"
	"github.com/okian/tally/internal/assessment"
	"github.com/okian/tally/internal/domain/auth"
	"github.com/okian/tally/internal/domain/dedupe"
	"github.com/okian/tally/internal/domain/difficulty"
	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/internal/tracking"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

// Service owns the telemetry pipeline for one process.
type Service struct {
	mu sync.RWMutex

	// Core components
	gateway    repository.Gateway
	resolver   auth.Resolver
	deduper    dedupe.Deduper
	queue      *eventqueue.InMemoryQueue
	flusher    *flusher.Flusher
	assessment *assessment.Logger
	registry   *tracking.Registry

	// Configuration
	flushInterval   time.Duration
	batchThreshold  int
	queueCapacity   int
	retryInitial    time.Duration
	retryMax        time.Duration
	dedupeSize      int
	anonymousUserID string

	// State
	started   bool
	runCancel context.CancelFunc
	runDone   chan struct{}

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		resolver:       auth.ContextResolver{},
		flushInterval:  5 * time.Second,
		batchThreshold: 10,
		queueCapacity:  100_000,
		retryInitial:   time.Second,
		retryMax:       time.Minute,
		dedupeSize:     50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	return s
}

// Start builds the pipeline and starts the flush schedule. The schedule
// outlives ctx; it runs until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	if s.gateway == nil {
		return ErrNoGateway
	}

	s.logger.Info(ctx, "starting telemetry service...")

	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueCapacity),
		eventqueue.WithLogger(s.logger.Named("queue")),
	)
	s.flusher = flusher.New(s.queue, s.gateway,
		flusher.WithInterval(s.flushInterval),
		flusher.WithThreshold(s.batchThreshold),
		flusher.WithBackoff(s.retryInitial, s.retryMax),
		flusher.WithLogger(s.logger.Named("flusher")),
	)
	s.assessment = assessment.NewLogger(s.queue, s.flusher, s.resolver,
		assessment.WithAnonymousUserID(s.anonymousUserID),
		assessment.WithLogger(s.logger.Named("assessment")),
	)
	s.registry = tracking.NewRegistry(s.gateway, s.resolver,
		tracking.WithLogger(s.logger.Named("tracking")),
	)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.runCancel = cancel
	s.runDone = make(chan struct{})
	go func(f *flusher.Flusher, done chan struct{}) {
		defer close(done)
		f.Run(runCtx)
	}(s.flusher, s.runDone)

	s.started = true
	s.logger.Info(ctx, "telemetry service started",
		logger.Duration("flushInterval", s.flushInterval),
		logger.Int("batchThreshold", s.batchThreshold),
		logger.Int("queueCapacity", s.queueCapacity),
	)
	return nil
}

// Stop abandons every open session, makes a final flush bounded by ctx and
// closes the gateway. Events that could not be written are discarded.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	s.logger.Info(ctx, "stopping telemetry service...")

	var errs []error
	if n := s.registry.AbandonAll(ctx); n > 0 {
		s.logger.Info(ctx, "abandoned open sessions", logger.Int("count", n))
	}
	if err := s.assessment.Destroy(ctx); err != nil {
		errs = append(errs, fmt.Errorf("destroy assessment logger: %w", err))
	}
	s.runCancel()
	select {
	case <-s.runDone:
	case <-ctx.Done():
	}
	if err := s.gateway.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close gateway: %w", err))
	}

	s.started = false
	s.logger.Info(ctx, "telemetry service stopped")
	return errors.Join(errs...)
}

// components returns the running pipeline, or false before Start and after Stop.
func (s *Service) components() (*assessment.Logger, *tracking.Registry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.assessment, s.registry, s.started
}

// Deduper returns the idempotency key store shared with the HTTP layer.
func (s *Service) Deduper() dedupe.Deduper {
	return s.deduper
}

// LogEvent queues an interaction event for the user in ctx. The read lock
// is held until the event is queued so Stop cannot run its final flush
// between the check and the append.
func (s *Service) LogEvent(ctx context.Context, data event.Data, sourceComponentID string) (event.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started {
		metrics.RecordEventDropped("closed", 1)
		return event.Event{}, false
	}
	return s.assessment.LogEvent(ctx, data, sourceComponentID)
}

// StartSession begins tracking gameID for the user in ctx.
func (s *Service) StartSession(ctx context.Context, gameID, subject, skillArea, assignmentID string) bool {
	_, r, ok := s.components()
	return ok && r.Start(ctx, gameID, subject, skillArea, assignmentID)
}

// RecordSessionAction counts an in-game action.
func (s *Service) RecordSessionAction(ctx context.Context, gameID string) bool {
	_, r, ok := s.components()
	return ok && r.RecordAction(ctx, gameID)
}

// RecordSessionHint counts a hint request.
func (s *Service) RecordSessionHint(ctx context.Context, gameID string) bool {
	_, r, ok := s.components()
	return ok && r.RecordHintUsed(ctx, gameID)
}

// RecordSessionAttempt counts an answer attempt.
func (s *Service) RecordSessionAttempt(ctx context.Context, gameID string) bool {
	_, r, ok := s.components()
	return ok && r.RecordAttempt(ctx, gameID)
}

// EndSession completes the running session of gameID.
func (s *Service) EndSession(ctx context.Context, gameID string, finalScore float64, objectives []tracking.Objective) bool {
	_, r, ok := s.components()
	return ok && r.End(ctx, gameID, finalScore, objectives)
}

// AbandonSession abandons the running session of gameID.
func (s *Service) AbandonSession(ctx context.Context, gameID string) bool {
	_, r, ok := s.components()
	return ok && r.Abandon(ctx, gameID)
}

// History summarizes userID's finished sessions of gameID.
func (s *Service) History(ctx context.Context, userID, gameID string) (difficulty.History, error) {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		return difficulty.History{}, ErrNotStarted
	}
	h, err := s.gateway.History(ctx, userID, gameID)
	if err != nil {
		return difficulty.History{}, fmt.Errorf("read history: %w", err)
	}
	return h, nil
}

// Flush writes everything queued now, outside the schedule.
func (s *Service) Flush(ctx context.Context) error {
	s.mu.RLock()
	f, started := s.flusher, s.started
	s.mu.RUnlock()
	if !started {
		return ErrNotStarted
	}
	return f.Flush(ctx)
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]any{
		"started":         s.started,
		"queueCapacity":   s.queueCapacity,
		"batchThreshold":  s.batchThreshold,
		"flushIntervalMs": s.flushInterval.Milliseconds(),
		"dedupeSize":      s.deduper.Size(),
	}
	if !s.started {
		return stats
	}

	fs := s.flusher.Stats()
	active := s.registry.Active()
	stats["queueLength"] = fs.QueueLength
	stats["flusher"] = fs
	stats["activeSessions"] = active

	if n, err := s.gateway.CountEvents(ctx); err != nil {
		stats["eventsStoredError"] = err.Error()
	} else {
		stats["eventsStored"] = n
	}

	metrics.UpdateQueueSize(fs.QueueLength)
	metrics.UpdateActiveSessions(active)
	return stats
}
