package ports

import "github.com/lzukanovic/tobii-mvp/internal/domain"

// LiveQueue is the bounded channel between the signal receivers and the
// transport consumer. Enqueue never blocks: the live feed sheds load
// (drop-newest) instead of applying backpressure to receivers, because a
// stalled receiver would also stall archival.
type LiveQueue interface {
	// Enqueue attempts once and reports false when the envelope was dropped.
	Enqueue(env domain.Envelope) bool
	// TryDequeue is non-blocking; the single consumer busy-polls it.
	TryDequeue() (domain.Envelope, bool)
	Len() int
	Cap() int
	// Clear empties the queue at stream-start.
	Clear()
}
