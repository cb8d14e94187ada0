// Package testprogress backs the two thin test-progress endpoints spec
// §6 lists (`POST /api/test/update`, `GET /api/test/progress`): a test
// runner external to the core posts its current step/percentage, and
// any dashboard client can poll it. It carries no state machine of its
// own — just the last value written, mutex-guarded like every other
// small shared-state component in this package set.
package testprogress

import (
	"sync"
	"time"
)

// State is the last-posted test-progress snapshot.
type State struct {
	Project   string    `json:"project,omitempty"`
	Step      string    `json:"step,omitempty"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Tracker holds the single current State.
type Tracker struct {
	mu    sync.Mutex
	state State
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{}
}

// Update overwrites the tracked state.
func (t *Tracker) Update(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s.UpdatedAt = time.Now()
	t.state = s
}

// Snapshot returns the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}
