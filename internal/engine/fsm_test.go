package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cortex/pkg/schema"
)

func TestChainFSM_HappyPath(t *testing.T) {
	fsm := NewChainFSM()
	assert.Equal(t, ChainPending, fsm.State())

	// Two-tool chain: first succeeds and advances, second succeeds.
	require.NoError(t, fsm.Transition(ChainAdvancing))
	require.NoError(t, fsm.Transition(ChainPending))
	require.NoError(t, fsm.Transition(ChainSucceeded))

	assert.True(t, fsm.Terminal())
}

func TestChainFSM_RetryThenExhaust(t *testing.T) {
	fsm := NewChainFSM()

	require.NoError(t, fsm.Transition(ChainRetrying))
	require.NoError(t, fsm.Transition(ChainPending))
	require.NoError(t, fsm.Transition(ChainRetrying))
	require.NoError(t, fsm.Transition(ChainExhausted))

	assert.True(t, fsm.Terminal())
}

func TestChainFSM_InvalidTransition(t *testing.T) {
	fsm := NewChainFSM()

	err := fsm.Transition(ChainExhausted)
	require.Error(t, err)

	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeInvalidTransition, cxErr.Code)

	// Failed transition leaves the state untouched.
	assert.Equal(t, ChainPending, fsm.State())
}

func TestChainFSM_TerminalStatesAreFinal(t *testing.T) {
	fsm := NewChainFSM()
	require.NoError(t, fsm.Transition(ChainSucceeded))

	for _, to := range []ChainState{ChainPending, ChainRetrying, ChainAdvancing, ChainExhausted} {
		assert.Error(t, fsm.Transition(to), "succeeded must not transition to %s", to)
	}
}

func TestChainFSM_OnAfterHook(t *testing.T) {
	fsm := NewChainFSM()

	var calls []string
	fsm.OnAfter(ChainPending, ChainRetrying, func(from, to ChainState) error {
		calls = append(calls, string(from)+"->"+string(to))
		return nil
	})

	require.NoError(t, fsm.Transition(ChainRetrying))
	assert.Equal(t, []string{"pending->retrying"}, calls)
}
