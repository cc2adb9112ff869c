// Package flusher moves buffered interaction events to durable storage in
// batches, on a timer or as soon as enough have accumulated.
package flusher

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

// Defaults for the flush schedule.
const (
	defaultInterval        = 5 * time.Second
	defaultThreshold       = 10
	defaultRetryInitial    = time.Second
	defaultRetryMax        = time.Minute
	defaultRetryMultiplier = 2
)

// Flush outcomes as exported in metrics.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"

	dropReasonUnmappable = "unmappable"
	dropReasonRejected   = "rejected"
)

// State describes where the pipeline is in its flush cycle.
type State string

// Pipeline states.
const (
	StateEmpty        State = "empty"
	StateAccumulating State = "accumulating"
	StateFlushing     State = "flushing"
	StateRetrying     State = "retrying"
)

// Sink persists a batch of records in one call.
type Sink interface {
	InsertBatch(ctx context.Context, records []event.Record) error
}

// Queue is the subset of the event queue the flusher consumes.
type Queue interface {
	Drain(ctx context.Context) []event.Event
	Requeue(ctx context.Context, batch []event.Event) int
	Len() int
}

// Stats is a point-in-time view of the flusher.
type Stats struct {
	State               State         `json:"state"`
	QueueLength         int           `json:"queue_length"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	RetryIn             time.Duration `json:"retry_in_ns"`
	EventsFlushed       int64         `json:"events_flushed"`
	LastFlushAt         time.Time     `json:"last_flush_at,omitzero"`
}

// Flusher drains a Queue into a Sink.
type Flusher struct {
	queue     Queue
	sink      Sink
	interval  time.Duration
	threshold int
	backoff   *backoff.ExponentialBackOff
	logger    logger.Logger
	now       func() time.Time

	// sem holds a token while a flush is running.
	sem chan struct{}

	mu          sync.Mutex
	retryAt     time.Time
	failures    int
	lastFlushAt time.Time
	flushed     atomic.Int64

	kick     chan struct{}
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	stopOnce sync.Once
}

// New creates a Flusher. Call Run to start the schedule.
func New(q Queue, sink Sink, opts ...Option) *Flusher {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitial
	b.MaxInterval = defaultRetryMax
	b.Multiplier = defaultRetryMultiplier
	b.RandomizationFactor = 0

	f := &Flusher{
		queue:     q,
		sink:      sink,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		backoff:   b,
		logger:    logger.Get().Named("flusher"),
		now:       time.Now,
		sem:       make(chan struct{}, 1),
		kick:      make(chan struct{}, 1),
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	b.Reset()
	return f
}

// Notify tells the flusher an event was appended. Once the queue holds
// threshold events the loop is woken to flush without waiting for the tick.
func (f *Flusher) Notify() {
	if f.queue.Len() < f.threshold {
		return
	}
	select {
	case <-f.shutdown:
	case f.kick <- struct{}{}:
	default:
	}
}

// Run drives scheduled flushes until ctx is done or Shutdown is called.
func (f *Flusher) Run(ctx context.Context) {
	f.running.Store(true)
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.shutdown:
			return
		case <-ticker.C:
			f.scheduled(ctx, "tick")
		case <-f.kick:
			f.scheduled(ctx, "threshold")
		}
	}
}

// scheduled flushes unless a previous failure's backoff is still pending.
func (f *Flusher) scheduled(ctx context.Context, trigger string) {
	if wait := f.retryIn(); wait > 0 {
		f.logger.Debug(ctx, "flush deferred by backoff",
			logger.String("trigger", trigger),
			logger.Duration("retry_in", wait),
		)
		return
	}
	if err := f.Flush(ctx); err != nil {
		f.logger.Debug(ctx, "scheduled flush failed", logger.String("trigger", trigger), logger.Error(err))
	}
}

// Flush writes everything queued as one batch. It returns immediately when
// the queue is empty or another flush is already running. On failure the
// batch is put back at the head of the queue and the backoff advances.
func (f *Flusher) Flush(ctx context.Context) error {
	select {
	case f.sem <- struct{}{}:
	default:
		metrics.RecordFlush(outcomeSkipped)
		return nil
	}
	defer func() { <-f.sem }()
	return f.flush(ctx)
}

// flush runs with the semaphore held.
func (f *Flusher) flush(ctx context.Context) error {
	batch := f.queue.Drain(ctx)
	if len(batch) == 0 {
		return nil
	}

	kept := make([]event.Event, 0, len(batch))
	records := make([]event.Record, 0, len(batch))
	for _, e := range batch { //nolint:gocritic // rangeValCopy: events are values end to end
		r, err := event.ToRecord(e)
		if err != nil {
			metrics.RecordEventDropped(dropReasonUnmappable, 1)
			f.logger.Error(ctx, "dropping event that cannot be persisted",
				logger.String("event_id", e.EventID),
				logger.Error(err),
			)
			continue
		}
		kept = append(kept, e)
		records = append(records, r)
	}
	if len(records) == 0 {
		return nil
	}

	start := f.now()
	err := f.sink.InsertBatch(ctx, records)
	metrics.RecordFlushDuration(float64(f.now().Sub(start).Milliseconds()))
	if err == nil {
		f.succeed(len(records))
		metrics.RecordFlush(outcomeSuccess)
		metrics.RecordFlushBatch(len(records))
		f.logger.Debug(ctx, "batch flushed", logger.Int("batch", len(records)))
		return nil
	}

	// Split the batch so a record the sink refuses on its own cannot hold
	// back the rest. When nothing lands the sink itself is failing and the
	// whole batch is retried.
	status := make([]recordStatus, len(records))
	f.split(ctx, records, status)

	var stored, rejected int
	pending := make([]event.Event, 0, len(kept))
	for i, st := range status {
		switch st {
		case recordStored:
			stored++
		case recordRejected:
			rejected++
		case recordPending:
			pending = append(pending, kept[i])
		}
	}
	if stored == 0 {
		return f.requeue(ctx, kept, err)
	}

	for i, st := range status {
		if st == recordRejected {
			f.logger.Error(ctx, "dropping event the store rejects",
				logger.String("event_id", kept[i].EventID),
				logger.String("type", string(kept[i].Type)),
			)
		}
	}
	metrics.RecordEventDropped(dropReasonRejected, rejected)
	f.succeed(stored)
	metrics.RecordFlush(outcomeSuccess)
	metrics.RecordFlushBatch(stored)
	f.logger.Warn(ctx, "batch flushed in parts",
		logger.Int("stored", stored),
		logger.Int("rejected", rejected),
		logger.Int("pending", len(pending)),
		logger.Error(err),
	)
	if len(pending) > 0 {
		f.queue.Requeue(ctx, pending)
	}
	return nil
}

type recordStatus uint8

const (
	recordPending recordStatus = iota
	recordStored
	recordRejected
)

// split inserts the halves of a batch that failed as a whole, recursing
// into halves that fail again. A single record that fails is marked
// rejected. Records left pending were not retried because ctx ended.
func (f *Flusher) split(ctx context.Context, records []event.Record, status []recordStatus) {
	if len(records) == 1 {
		status[0] = recordRejected
		return
	}
	mid := len(records) / 2
	for _, part := range [][2]int{{0, mid}, {mid, len(records)}} {
		if ctx.Err() != nil {
			return
		}
		lo, hi := part[0], part[1]
		if err := f.sink.InsertBatch(ctx, records[lo:hi]); err == nil {
			for i := lo; i < hi; i++ {
				status[i] = recordStored
			}
			continue
		}
		f.split(ctx, records[lo:hi], status[lo:hi])
	}
}

// requeue puts a failed batch back at the head of the queue and arms the
// backoff.
func (f *Flusher) requeue(ctx context.Context, batch []event.Event, cause error) error {
	dropped := f.queue.Requeue(ctx, batch)
	delay := f.fail()
	metrics.RecordFlush(outcomeFailure)
	f.logger.Error(ctx, "batch insert failed, events requeued",
		logger.Int("batch", len(batch)),
		logger.Int("evicted", dropped),
		logger.Duration("retry_in", delay),
		logger.Error(cause),
	)
	return fmt.Errorf("%w: %d events: %w", ErrFlushFailed, len(batch), cause)
}

func (f *Flusher) fail() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	delay := f.backoff.NextBackOff()
	f.failures++
	f.retryAt = f.now().Add(delay)
	metrics.UpdateRetryDelay(delay)
	return delay
}

func (f *Flusher) succeed(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backoff.Reset()
	f.failures = 0
	f.retryAt = time.Time{}
	f.lastFlushAt = f.now()
	f.flushed.Add(int64(n))
	metrics.UpdateRetryDelay(0)
}

func (f *Flusher) retryIn() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retryAt.IsZero() {
		return 0
	}
	return max(f.retryAt.Sub(f.now()), 0)
}

// State reports the current pipeline state.
func (f *Flusher) State() State {
	switch {
	case len(f.sem) > 0:
		return StateFlushing
	case f.retryIn() > 0:
		return StateRetrying
	case f.queue.Len() == 0:
		return StateEmpty
	default:
		return StateAccumulating
	}
}

// Stats returns a snapshot for diagnostics.
func (f *Flusher) Stats() Stats {
	state := f.State()
	f.mu.Lock()
	defer f.mu.Unlock()
	s := Stats{
		State:               state,
		QueueLength:         f.queue.Len(),
		ConsecutiveFailures: f.failures,
		EventsFlushed:       f.flushed.Load(),
		LastFlushAt:         f.lastFlushAt,
	}
	if !f.retryAt.IsZero() {
		s.RetryIn = max(f.retryAt.Sub(f.now()), 0)
	}
	return s
}

// Shutdown stops the schedule, waits for a running flush and then makes one
// final attempt, all within ctx. Later calls return nil.
func (f *Flusher) Shutdown(ctx context.Context) error {
	var err error
	f.stopOnce.Do(func() {
		close(f.shutdown)

		if f.running.Load() {
			select {
			case <-f.done:
			case <-ctx.Done():
				err = fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
				return
			}
		}

		select {
		case f.sem <- struct{}{}:
		case <-ctx.Done():
			err = fmt.Errorf("%w: %w", ErrShutdownTimeout, ctx.Err())
			return
		}
		defer func() { <-f.sem }()

		if ferr := f.flush(ctx); ferr != nil {
			err = ferr
			f.logger.Warn(ctx, "final flush failed", logger.Int("pending", f.queue.Len()), logger.Error(ferr))
			return
		}
		f.logger.Info(ctx, "flusher stopped")
	})
	return err
}
