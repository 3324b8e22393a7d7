package session

import "github.com/sarchlab/pipesim/timing/pipeline"

// History stores full-machine snapshots taken before each step, newest
// last. Snapshots are deep copies and share nothing with the live state.
type History struct {
	snapshots []*pipeline.Pipeline
}

// NewHistory creates an empty history store.
func NewHistory() *History {
	return &History{}
}

// Push appends a snapshot.
func (h *History) Push(p *pipeline.Pipeline) {
	h.snapshots = append(h.snapshots, p)
}

// Pop removes and returns the most recent snapshot. ok is false when the
// history is empty.
func (h *History) Pop() (*pipeline.Pipeline, bool) {
	if len(h.snapshots) == 0 {
		return nil, false
	}
	last := h.snapshots[len(h.snapshots)-1]
	h.snapshots = h.snapshots[:len(h.snapshots)-1]
	return last, true
}

// Len returns the number of stored snapshots.
func (h *History) Len() int {
	return len(h.snapshots)
}

// Clear discards all snapshots.
func (h *History) Clear() {
	h.snapshots = nil
}
