package telemetry

import "sync"

// Store is the shared telemetry state: the current Snapshot and the
// History Window. The Sampler is its only writer.
type Store struct {
	mu      sync.RWMutex
	history *History
}

// NewStore creates a Store with a History Window of the given capacity
func NewStore(capacity int) *Store {
	return &Store{history: NewHistory(capacity)}
}

// Record stores s as the current snapshot and appends it to the history
func (st *Store) Record(s Snapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.history.Push(s)
}

// Latest returns the current snapshot, or false before the first cycle
func (st *Store) Latest() (Snapshot, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.history.Last()
}

// History returns a copy of the History Window, oldest first
func (st *Store) History() []Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return st.history.Points()
}

// Capacity returns W
func (st *Store) Capacity() int {
	return st.history.Cap()
}
