package queue

import (
	"testing"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
)

func gazeEnv(ts float64) domain.Envelope {
	return domain.Envelope{Type: domain.SignalGaze, TS: ts}
}

func TestLiveQueueFIFO(t *testing.T) {
	q := NewLiveQueue(4)

	for i := 0; i < 3; i++ {
		if !q.Enqueue(gazeEnv(float64(i))) {
			t.Fatalf("enqueue %d failed within capacity", i)
		}
	}

	for i := 0; i < 3; i++ {
		env, ok := q.TryDequeue()
		if !ok || env.TS != float64(i) {
			t.Fatalf("dequeue %d: got (%v, %v)", i, env.TS, ok)
		}
	}
	if _, ok := q.TryDequeue(); ok {
		t.Fatalf("dequeue on empty queue should report false")
	}
}

func TestLiveQueueDropNewestOnFull(t *testing.T) {
	q := NewLiveQueue(4)

	// A burst of 3x capacity must never block or panic; only the earliest
	// excess entries are dropped.
	accepted := 0
	for i := 0; i < 12; i++ {
		if q.Enqueue(gazeEnv(float64(i))) {
			accepted++
		}
	}
	if accepted != 4 {
		t.Fatalf("expected 4 accepted envelopes, got %d", accepted)
	}
	if q.Len() != 4 {
		t.Fatalf("occupancy %d exceeds capacity", q.Len())
	}

	// The survivors are the first four in order.
	for i := 0; i < 4; i++ {
		env, ok := q.TryDequeue()
		if !ok || env.TS != float64(i) {
			t.Fatalf("survivor %d: got (%v, %v)", i, env.TS, ok)
		}
	}
}

func TestLiveQueueClear(t *testing.T) {
	q := NewLiveQueue(4)
	q.Enqueue(gazeEnv(1))
	q.Enqueue(gazeEnv(2))
	q.Clear()
	if q.Len() != 0 {
		t.Fatalf("expected empty queue after clear, got %d", q.Len())
	}
	if !q.Enqueue(gazeEnv(3)) {
		t.Fatalf("enqueue after clear failed")
	}
}

func TestLiveQueueInterleavedCompaction(t *testing.T) {
	q := NewLiveQueue(2)

	// Alternate enqueue/dequeue well past capacity to exercise compaction.
	for i := 0; i < 50; i++ {
		if !q.Enqueue(gazeEnv(float64(i))) {
			t.Fatalf("enqueue %d failed on non-full queue", i)
		}
		env, ok := q.TryDequeue()
		if !ok || env.TS != float64(i) {
			t.Fatalf("round %d: got (%v, %v)", i, env.TS, ok)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("queue should drain to empty, got %d", q.Len())
	}
}
