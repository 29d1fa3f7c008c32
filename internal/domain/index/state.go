// Package index holds the indexing state machine and run summaries.
package index

import (
	"fmt"
	"sync"
	"time"
)

// State is a phase of an indexing run.
type State string

// Indexing run states.
const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateDiffing    State = "diffing"
	StateEmbedding  State = "embedding"
	StatePersisting State = "persisting"
	StateDone       State = "done"
	StateError      State = "error"
)

// transitions lists the legal successors of each state. Embedding and
// Persisting loop back to Diffing because policies are processed one at a
// time inside a run.
var transitions = map[State][]State{
	StateIdle:       {StateLoading},
	StateLoading:    {StateDiffing, StateDone, StateError},
	StateDiffing:    {StateEmbedding, StatePersisting, StateDiffing, StateDone, StateError},
	StateEmbedding:  {StatePersisting, StateDiffing, StateDone, StateError},
	StatePersisting: {StateDiffing, StateDone, StateError},
	StateDone:       {StateLoading, StateIdle},
	StateError:      {StateLoading, StateIdle},
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a run.
func (s State) Terminal() bool { return s == StateDone || s == StateError }

// Machine tracks the state of the current run. Safe for concurrent use.
type Machine struct {
	mu      sync.Mutex
	state   State
	since   time.Time
	lastErr error
	now     func() time.Time
}

// NewMachine returns a machine in StateIdle.
func NewMachine() *Machine {
	return &Machine{state: StateIdle, since: time.Now(), now: time.Now}
}

// Transition moves to the next state or returns an error for an illegal move.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return fmt.Errorf("illegal indexer transition %s -> %s", m.state, to)
	}
	m.state = to
	m.since = m.now()
	if to == StateLoading {
		m.lastErr = nil
	}
	return nil
}

// Fail moves to StateError from any non-idle state and records err.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateError
	m.since = m.now()
	m.lastErr = err
}

// Begin starts a run if none is active. It reports false when a run is in progress.
func (m *Machine) Begin() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateIdle && !m.state.Terminal() {
		return false
	}
	m.state = StateLoading
	m.since = m.now()
	m.lastErr = nil
	return true
}

// Status is a snapshot of the machine.
type Status struct {
	State State
	Since time.Time
	Err   error
}

// Status returns the current snapshot.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Since: m.since, Err: m.lastErr}
}
