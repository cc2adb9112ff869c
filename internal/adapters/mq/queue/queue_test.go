package queue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/okian/tally/internal/domain/event"
	"github.com/okian/tally/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func ev(id string) event.Event {
	return event.Event{
		EventID: id,
		UserID:  "u1",
		Type:    event.TypeContentView,
		Payload: event.Payload{ContentView: &event.ContentView{ContentAtomID: "atom"}},
	}
}

func ids(events []event.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.EventID
	}
	return out
}

func sameIDs(t *testing.T, got []event.Event, want ...string) {
	t.Helper()
	g := ids(got)
	if fmt.Sprint(g) != fmt.Sprint(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
}

func TestInMemoryQueue_AppendDrain(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	for _, id := range []string{"a", "b", "c"} {
		if dropped := q.Append(ctx, ev(id)); dropped != 0 {
			t.Errorf("unbounded queue dropped %d", dropped)
		}
	}
	if l := q.Len(); l != 3 {
		t.Errorf("expected length 3, got %d", l)
	}

	sameIDs(t, q.Drain(ctx), "a", "b", "c")

	if l := q.Len(); l != 0 {
		t.Errorf("expected empty queue after drain, got %d", l)
	}
	if batch := q.Drain(ctx); len(batch) != 0 {
		t.Errorf("expected empty drain, got %d", len(batch))
	}
}

func TestInMemoryQueue_RequeuePrependsInOrder(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()

	q.Append(ctx, ev("e1"))
	q.Append(ctx, ev("e2"))
	batch := q.Drain(ctx)

	// arrived while the batch was in flight
	q.Append(ctx, ev("e3"))

	q.Requeue(ctx, batch)
	sameIDs(t, q.Snapshot(), "e1", "e2", "e3")
}

func TestInMemoryQueue_CapacityDropsOldest(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(3))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		q.Append(ctx, ev(id))
	}
	if dropped := q.Append(ctx, ev("d")); dropped != 1 {
		t.Fatalf("expected 1 dropped, got %d", dropped)
	}
	sameIDs(t, q.Snapshot(), "b", "c", "d")

	batch := q.Drain(ctx)
	q.Append(ctx, ev("e"))
	q.Append(ctx, ev("f"))
	if dropped := q.Requeue(ctx, batch); dropped != 2 {
		t.Fatalf("expected 2 dropped on requeue, got %d", dropped)
	}
	sameIDs(t, q.Snapshot(), "d", "e", "f")
}

func TestInMemoryQueue_SnapshotIsCopy(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()
	q.Append(ctx, ev("a"))

	snap := q.Snapshot()
	snap[0].EventID = "mutated"

	sameIDs(t, q.Snapshot(), "a")
}

func TestInMemoryQueue_Clear(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()
	q.Append(ctx, ev("a"))
	q.Append(ctx, ev("b"))

	q.Clear()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0 after clear, got %d", l)
	}
}

func TestInMemoryQueue_ConcurrentAppend(t *testing.T) {
	q := NewInMemoryQueue()
	ctx := context.Background()
	const producers, perProducer = 10, 100

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				q.Append(ctx, ev(fmt.Sprintf("p%d-%d", p, i)))
			}
		}()
	}
	wg.Wait()

	got := q.Drain(ctx)
	if len(got) != producers*perProducer {
		t.Fatalf("expected %d events, got %d", producers*perProducer, len(got))
	}
	seen := make(map[string]struct{}, len(got))
	for _, e := range got {
		if _, dup := seen[e.EventID]; dup {
			t.Fatalf("duplicate event %s", e.EventID)
		}
		seen[e.EventID] = struct{}{}
	}
}
