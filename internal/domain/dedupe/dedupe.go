// Package dedupe tracks producer idempotency keys so a retried submission
// is not logged twice.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 50_000

// Deduper maps idempotency keys to the event they produced.
type Deduper interface {
	// SeenAndRecord atomically claims key. When the key was already claimed it
	// returns true with the bound event id, which is empty while the first
	// claimant is still in flight.
	SeenAndRecord(ctx context.Context, key string) (eventID string, seen bool)

	// Bind attaches the accepted event id to a claimed key.
	Bind(ctx context.Context, key, eventID string)

	// Unrecord releases a claim whose submission was not accepted, so the
	// producer may retry it.
	Unrecord(ctx context.Context, key string)

	Size() int
}

type entry struct {
	key     string
	eventID string
}

// inMemoryDeduper keeps keys in least recently seen order and evicts the
// stalest once maxSize is reached. maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	index   map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: defaultMaxSize,
		index:   make(map[string]*list.Element),
		order:   list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.MoveToBack(el)
		return el.Value.(*entry).eventID, true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(*entry).key)
	}
	d.index[key] = d.order.PushBack(&entry{key: key})
	return "", false
}

func (d *inMemoryDeduper) Bind(_ context.Context, key, eventID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		el.Value.(*entry).eventID = eventID
	}
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.Remove(el)
		delete(d.index, key)
	}
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
