// Package queue provides the bounded live-view queue between the signal
// receivers and the transport consumer.
package queue

import (
	"sync"

	"github.com/lzukanovic/tobii-mvp/internal/domain"
	"github.com/lzukanovic/tobii-mvp/internal/ports"
)

// DefaultCap matches the original deployment's live-view buffer.
const DefaultCap = 2000

// LiveQueue is a bounded FIFO with non-blocking enqueue. Multiple receivers
// produce; a single consumer drains. On full, the newest envelope is dropped
// (drop-newest): the live feed sheds load so receivers never stall.
type LiveQueue struct {
	mu   sync.Mutex
	data []domain.Envelope
	head int
	cap  int
}

// NewLiveQueue builds a queue with the given capacity; values < 1 fall back
// to DefaultCap.
func NewLiveQueue(capacity int) *LiveQueue {
	if capacity < 1 {
		capacity = DefaultCap
	}
	return &LiveQueue{
		data: make([]domain.Envelope, 0, capacity),
		cap:  capacity,
	}
}

// Enqueue attempts once and reports false when the queue is full.
func (q *LiveQueue) Enqueue(env domain.Envelope) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data)-q.head >= q.cap {
		return false
	}
	q.data = append(q.data, env)
	return true
}

// TryDequeue removes and returns the oldest envelope, if any.
func (q *LiveQueue) TryDequeue() (domain.Envelope, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head >= len(q.data) {
		return domain.Envelope{}, false
	}
	env := q.data[q.head]
	q.data[q.head] = domain.Envelope{}
	q.head++
	if q.head == len(q.data) {
		q.data = q.data[:0]
		q.head = 0
	} else if q.head >= q.cap {
		// Compact so the backing slice stays bounded by capacity.
		q.data = append(q.data[:0], q.data[q.head:]...)
		q.head = 0
	}
	return env, true
}

func (q *LiveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data) - q.head
}

func (q *LiveQueue) Cap() int { return q.cap }

// Clear empties the queue; called at stream-start.
func (q *LiveQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.data = q.data[:0]
	q.head = 0
}

var _ ports.LiveQueue = (*LiveQueue)(nil)
