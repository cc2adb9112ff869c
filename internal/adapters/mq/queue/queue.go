// Package queue buffers interaction events in arrival order until the
// flusher drains them.
package queue

import (
	"context"
	"sync"

	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/pkg/logger"
	"github.com/okian/tally/pkg/metrics"
)

const dropReasonOverflow = "overflow"

// Queue is an ordered, goroutine-safe event buffer.
type Queue interface {
	// Append adds e at the tail and returns how many of the oldest events
	// were evicted to stay within capacity.
	Append(ctx context.Context, e event.Event) int

	// Drain returns every buffered event in order and empties the queue.
	Drain(ctx context.Context) []event.Event

	// Requeue puts batch back at the head, ahead of anything appended since
	// it was drained, and returns the number of events evicted.
	Requeue(ctx context.Context, batch []event.Event) int

	Len() int
	Clear()
	Snapshot() []event.Event
}

// InMemoryQueue implements Queue on a slice.
type InMemoryQueue struct {
	mu       sync.Mutex
	events   []event.Event
	capacity int
	logger   logger.Logger
}

// NewInMemoryQueue creates an empty queue.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		logger: logger.Get().Named("queue"),
	}
	for _, opt := range opts {
		opt(q)
	}
	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

// Append implements Queue.
func (q *InMemoryQueue) Append(ctx context.Context, e event.Event) int { //nolint:gocritic // events are values end to end
	q.mu.Lock()
	q.events = append(q.events, e)
	dropped := q.trimLocked()
	size := len(q.events)
	q.mu.Unlock()

	q.observe(ctx, size, dropped)
	return dropped
}

// Drain implements Queue.
func (q *InMemoryQueue) Drain(_ context.Context) []event.Event {
	q.mu.Lock()
	batch := q.events
	q.events = nil
	q.mu.Unlock()

	metrics.UpdateQueueSize(0)
	return batch
}

// Requeue implements Queue.
func (q *InMemoryQueue) Requeue(ctx context.Context, batch []event.Event) int {
	if len(batch) == 0 {
		return 0
	}
	q.mu.Lock()
	merged := make([]event.Event, 0, len(batch)+len(q.events))
	merged = append(merged, batch...)
	q.events = append(merged, q.events...)
	dropped := q.trimLocked()
	size := len(q.events)
	q.mu.Unlock()

	q.observe(ctx, size, dropped)
	return dropped
}

// Len implements Queue.
func (q *InMemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Clear implements Queue.
func (q *InMemoryQueue) Clear() {
	q.mu.Lock()
	q.events = nil
	q.mu.Unlock()
	metrics.UpdateQueueSize(0)
}

// Snapshot implements Queue. The returned slice is a copy.
func (q *InMemoryQueue) Snapshot() []event.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]event.Event, len(q.events))
	copy(out, q.events)
	return out
}

// trimLocked evicts from the head until the queue fits. Caller holds q.mu.
func (q *InMemoryQueue) trimLocked() int {
	if q.capacity <= 0 || len(q.events) <= q.capacity {
		return 0
	}
	dropped := len(q.events) - q.capacity
	clear(q.events[:dropped])
	q.events = q.events[dropped:]
	return dropped
}

func (q *InMemoryQueue) observe(ctx context.Context, size, dropped int) {
	metrics.UpdateQueueSize(size)
	if dropped == 0 {
		return
	}
	metrics.RecordQueueOverflow(dropped)
	metrics.RecordEventDropped(dropReasonOverflow, dropped)
	q.logger.Warn(ctx, "queue at capacity, dropped oldest events",
		logger.Int("dropped", dropped),
		logger.Int("capacity", q.capacity),
	)
}
