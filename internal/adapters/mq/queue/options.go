package queue

import "github.com/okian/tally/pkg/logger"

// Option applies a configuration option to the InMemoryQueue.
type Option func(*InMemoryQueue)

// WithCapacity caps the number of buffered events. Once full, the oldest
// events are dropped to make room. capacity <= 0 leaves the queue unbounded.
func WithCapacity(capacity int) Option {
	return func(q *InMemoryQueue) {
		q.capacity = max(capacity, 0)
	}
}

// WithLogger sets the logger used to report overflow.
func WithLogger(l logger.Logger) Option {
	return func(q *InMemoryQueue) {
		if l != nil {
			q.logger = l
		}
	}
}
