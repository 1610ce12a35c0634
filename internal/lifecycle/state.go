// Package lifecycle implements the component state machine shared by every
// source, query, and reaction (spec section 4.3). It is modelled on the
// teacher's coordinator.PhaseManager: a map of states guarded by a mutex,
// validated transitions, and a change-notification callback.
package lifecycle

import (
	"fmt"
	"sync"
	"time"
)

// State is one of the six lifecycle states a component can be in.
type State string

const (
	Stopped     State = "stopped"
	Starting    State = "starting"
	Running     State = "running"
	Stopping    State = "stopping"
	Failed      State = "failed"
	TerminalErr State = "terminal_error"
)

// validTransitions enumerates the states start()/stop() may move a
// component into from each current state. TerminalErr has no way out
// except delete, which happens above this package.
var validTransitions = map[State][]State{
	Stopped:     {Starting},
	Starting:    {Running, Failed, TerminalErr},
	Running:     {Stopping, Failed, TerminalErr},
	Stopping:    {Stopped, Failed},
	Failed:      {Starting},
	TerminalErr: {},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state has no further lifecycle
// transitions except delete.
func (s State) IsTerminal() bool {
	return s == TerminalErr
}

// Status is the externally observable state of one component (spec
// section 4.3 / 7: "every component's status exposes its current state,
// last transition time, and last error string").
type Status struct {
	State          State
	LastTransition time.Time
	LastError      string
	Retryable      bool
}

// ErrConflict is returned when a lifecycle operation is attempted while
// another one is already in flight for the same component.
var ErrConflict = fmt.Errorf("lifecycle: operation already in flight")

// Machine tracks one component's lifecycle state under a mutex and
// notifies a registered observer on every transition, mirroring
// coordinator.PhaseManager.OnPhaseChanged.
type Machine struct {
	mu       sync.Mutex
	status   Status
	inFlight bool
	onChange func(Status)
}

// New creates a Machine in the Stopped state.
func New() *Machine {
	return &Machine{status: Status{State: Stopped, LastTransition: time.Now()}}
}

// OnChange registers a callback invoked (outside the lock) after every
// successful transition.
func (m *Machine) OnChange(fn func(Status)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Status returns a snapshot of the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Begin marks the start of a lifecycle operation moving toward target,
// enforcing at most one concurrent lifecycle op per component (spec
// section 4.3 and 8). Callers must pair a successful Begin with exactly
// one Finish.
func (m *Machine) Begin(target State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight {
		return ErrConflict
	}
	if !CanTransition(m.status.State, target) {
		return fmt.Errorf("lifecycle: %s -> %s not allowed", m.status.State, target)
	}

	m.inFlight = true
	m.status.State = target
	m.status.LastTransition = time.Now()
	m.notifyLocked()
	return nil
}

// Finish completes the in-flight operation, landing on final with an
// optional error reason. Successful entry into Running clears LastError,
// per spec 4.3 ("the last error reason is retained until the next
// successful Running entry").
func (m *Machine) Finish(final State, reason string, retryable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.inFlight = false
	m.status.State = final
	m.status.LastTransition = time.Now()
	if final == Running {
		m.status.LastError = ""
		m.status.Retryable = false
	} else if reason != "" {
		m.status.LastError = reason
		m.status.Retryable = retryable
	}
	m.notifyLocked()
}

// Fail forces the machine into Failed from any non-terminal state, for
// asynchronous failures a background task reports rather than one
// paired with a prior Begin (e.g. spec 4.4's source-exit cascade into a
// subscribing query). It is a no-op if a lifecycle operation is already
// in flight — that operation's own Finish will record the outcome — or
// if the machine is already in a terminal state.
func (m *Machine) Fail(reason string, retryable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inFlight || m.status.State.IsTerminal() {
		return
	}
	m.status.State = Failed
	m.status.LastTransition = time.Now()
	m.status.LastError = reason
	m.status.Retryable = retryable
	m.notifyLocked()
}

func (m *Machine) notifyLocked() {
	if m.onChange == nil {
		return
	}
	snapshot := m.status
	go m.onChange(snapshot)
}
