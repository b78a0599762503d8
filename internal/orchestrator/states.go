package orchestrator

import (
	"sync"
	"time"
)

// State represents a phase of a sync pass. Each state struct exposes
// only the transitions that are legal from it, so an impossible jump
// (e.g. applying straight to draining) cannot compile.
type State interface {
	Name() string
}

// PassTiming captures phase timestamps for a single sync pass
type PassTiming struct {
	StartedAt      time.Time
	QueueDrainedAt time.Time
	FetchedAt      time.Time
	AppliedAt      time.Time
	FinishedAt     time.Time
}

// StateRecorder captures the sequence of states a pass moved through.
// Used by tests to assert transition paths.
type StateRecorder struct {
	mu     sync.Mutex
	states []string
}

// NewStateRecorder creates a state recorder
func NewStateRecorder() *StateRecorder {
	return &StateRecorder{}
}

// Record appends a state name to the recorded path
func (r *StateRecorder) Record(s State) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.Name())
}

// Path returns a copy of the recorded state names in order
func (r *StateRecorder) Path() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.states))
	copy(out, r.states)
	return out
}

// Reset clears the recorded path
func (r *StateRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = nil
}
