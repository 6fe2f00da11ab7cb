package telemetry

// History is a bounded FIFO of the most recent Snapshots.
// It is not safe for concurrent use; Store guards it.
type History struct {
	points []Snapshot
	max    int
}

// NewHistory creates a History holding at most capacity snapshots
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		points: make([]Snapshot, 0, capacity),
		max:    capacity,
	}
}

// Push appends s, evicting the oldest snapshot when full
func (h *History) Push(s Snapshot) {
	if len(h.points) >= h.max {
		copy(h.points, h.points[1:])
		h.points[len(h.points)-1] = s
		return
	}
	h.points = append(h.points, s)
}

// Len returns the number of stored snapshots
func (h *History) Len() int {
	return len(h.points)
}

// Cap returns the capacity W
func (h *History) Cap() int {
	return h.max
}

// Last returns the newest snapshot
func (h *History) Last() (Snapshot, bool) {
	if len(h.points) == 0 {
		return Snapshot{}, false
	}
	return h.points[len(h.points)-1], true
}

// Points returns a copy of the stored snapshots, oldest first
func (h *History) Points() []Snapshot {
	out := make([]Snapshot, len(h.points))
	copy(out, h.points)
	return out
}
