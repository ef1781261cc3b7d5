package acquisition

import "sync"

// archive is an append-only, full-fidelity sample store for one signal.
// Each archive has a single writer (its receiver); the mutex covers the
// snapshot and clear calls issued from the control plane.
type archive[T any] struct {
	mu   sync.Mutex
	data []T
}

func (a *archive[T]) Append(v T) {
	a.mu.Lock()
	a.data = append(a.data, v)
	a.mu.Unlock()
}

func (a *archive[T]) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}

// Snapshot returns a copy of the archive contents.
func (a *archive[T]) Snapshot() []T {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.data) == 0 {
		return nil
	}
	out := make([]T, len(a.data))
	copy(out, a.data)
	return out
}

func (a *archive[T]) Clear() {
	a.mu.Lock()
	a.data = nil
	a.mu.Unlock()
}
