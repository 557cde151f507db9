package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rework/pkg/logx"
	"rework/pkg/metrics"
)

func TestTransitionTable(t *testing.T) {
	active := []State{
		StateBuildingContext, StateAwaitingModel, StateRoutingToolCalls,
		StateParsingSingleEdit, StateApplying, StateReporting,
	}
	for _, s := range active {
		assert.True(t, IsValidTransition(s, StateCancelled), "%s should be cancellable", s)
		assert.False(t, IsValidTransition(s, StateIdle) && s != StateReporting, "%s must report before idling", s)
	}

	assert.Equal(t, []State{StateBuildingContext}, validTransitions[StateIdle])
	assert.Equal(t, []State{StateIdle}, validTransitions[StateCancelled])
	assert.True(t, IsValidTransition(StateAwaitingModel, StateRoutingToolCalls))
	assert.True(t, IsValidTransition(StateAwaitingModel, StateParsingSingleEdit))
	assert.True(t, IsValidTransition(StateApplying, StateAwaitingModel))
	assert.False(t, IsValidTransition(StateIdle, StateApplying))
	assert.False(t, IsValidTransition(StateReporting, StateAwaitingModel))
}

func TestStateMachine(t *testing.T) {
	m := newStateMachine(logx.NewLogger("test"), metrics.Nop())
	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.transition(StateBuildingContext))
	require.NoError(t, m.transition(StateBuildingContext))
	require.NoError(t, m.transition(StateAwaitingModel))

	err := m.transition(StateIdle)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateAwaitingModel, m.State())

	require.NoError(t, m.transition(StateCancelled))
	m.reset()
	assert.Equal(t, StateIdle, m.State())
}
