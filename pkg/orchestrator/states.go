package orchestrator

import (
	"fmt"
	"sync"

	"rework/pkg/logx"
	"rework/pkg/metrics"
)

// State is a phase of one turn.
type State string

// Turn states. Idle is the entry state; Cancelled is reachable from every
// other state and returns to Idle.
const (
	StateIdle              State = "IDLE"
	StateBuildingContext   State = "BUILDING_CONTEXT"
	StateAwaitingModel     State = "AWAITING_MODEL"
	StateRoutingToolCalls  State = "ROUTING_TOOL_CALLS"
	StateParsingSingleEdit State = "PARSING_SINGLE_EDIT"
	StateApplying          State = "APPLYING"
	StateReporting         State = "REPORTING"
	StateCancelled         State = "CANCELLED"
)

// validTransitions defines the turn state machine.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[State][]State{
	StateIdle: {StateBuildingContext},

	StateBuildingContext: {StateAwaitingModel, StateReporting, StateCancelled},

	// A failed model call reports directly.
	StateAwaitingModel: {StateRoutingToolCalls, StateParsingSingleEdit, StateReporting, StateCancelled},

	// Autonomous: edit tools apply, others run in place; a finished batch of
	// calls re-invokes the model or reports.
	StateRoutingToolCalls: {StateApplying, StateAwaitingModel, StateReporting, StateCancelled},

	// Deterministic: a malformed edit re-invokes the model, a parsed one
	// applies, a non-edit format reports.
	StateParsingSingleEdit: {StateApplying, StateAwaitingModel, StateReporting, StateCancelled},

	StateApplying: {StateReporting, StateRoutingToolCalls, StateParsingSingleEdit, StateAwaitingModel, StateCancelled},

	StateReporting: {StateIdle, StateCancelled},

	StateCancelled: {StateIdle},
}

// IsValidTransition checks whether the table allows from → to.
func IsValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// stateMachine tracks the current state, logging and counting transitions.
type stateMachine struct {
	mu      sync.Mutex
	current State
	logger  *logx.Logger
	rec     metrics.Recorder
}

func newStateMachine(logger *logx.Logger, rec metrics.Recorder) *stateMachine {
	return &stateMachine{current: StateIdle, logger: logger, rec: rec}
}

func (m *stateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// transition moves to next. Repeating the current state is a no-op.
func (m *stateMachine) transition(next State) error {
	m.mu.Lock()
	from := m.current
	if from == next {
		m.mu.Unlock()
		return nil
	}
	if !IsValidTransition(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	m.current = next
	m.mu.Unlock()

	m.logger.DebugState(string(from), string(next))
	m.rec.ObserveTransition(string(from), string(next))
	return nil
}

// reset forces Idle after a turn, cancelled or not.
func (m *stateMachine) reset() {
	m.mu.Lock()
	from := m.current
	m.current = StateIdle
	m.mu.Unlock()
	if from != StateIdle {
		m.logger.DebugState(string(from), string(StateIdle))
		m.rec.ObserveTransition(string(from), string(StateIdle))
	}
}
