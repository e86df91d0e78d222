package agent

import (
	"fmt"
	"slices"
	"sync"
)

// State is the agent's lifecycle state.
type State string

const (
	StateIdle        State = "IDLE"
	StateConfiguring State = "CONFIGURING"
	StateCalibrating State = "CALIBRATING"
	StateReady       State = "READY"
	StateRunning     State = "RUNNING"
	StatePaused      State = "PAUSED"
	StateStopped     State = "STOPPED"
	StateError       State = "ERROR"
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateIdle, StateConfiguring, StateCalibrating, StateReady,
	StateRunning, StatePaused, StateStopped, StateError,
}

var transitions = map[State][]State{
	StateIdle:        {StateConfiguring, StateCalibrating, StateReady},
	StateConfiguring: {StateReady, StateIdle},
	StateCalibrating: {StateReady, StateIdle},
	StateReady:       {StateRunning, StateConfiguring, StateCalibrating},
	StateRunning:     {StatePaused, StateStopped, StateError, StateReady},
	StatePaused:      {StateRunning, StateStopped, StateError},
	StateStopped:     {StateReady, StateIdle},
	StateError:       {StateIdle, StateReady},
}

// InvalidTransitionError is returned for any move not in the transition table.
type InvalidTransitionError struct {
	From, To State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateMachine guards the agent state. Observers run synchronously after each
// successful transition, outside the lock.
type StateMachine struct {
	mu        sync.RWMutex
	state     State
	observers []func(from, to State)
}

// NewStateMachine starts in IDLE.
func NewStateMachine() *StateMachine {
	return &StateMachine{state: StateIdle}
}

// Current returns the current state.
func (m *StateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves to target or returns *InvalidTransitionError.
func (m *StateMachine) Transition(target State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, target) {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: target}
	}
	m.state = target
	observers := slices.Clone(m.observers)
	m.mu.Unlock()

	for _, fn := range observers {
		fn(from, target)
	}
	return nil
}

// OnTransition registers fn to be called after every successful transition.
func (m *StateMachine) OnTransition(fn func(from, to State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}
