package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cortex/pkg/schema"
)

func TestCircuitBreaker_ClosedAllowsRequests(t *testing.T) {
	reg := NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig())
	assert.NoError(t, reg.AllowRequest("IBTAgent"))
	assert.Equal(t, CircuitClosed, reg.GetState("IBTAgent"))
}

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		HalfOpenMax:      1,
	})

	reg.RecordFailure("IBTAgent")
	reg.RecordFailure("IBTAgent")
	assert.Equal(t, CircuitClosed, reg.GetState("IBTAgent"))

	state := reg.RecordFailure("IBTAgent")
	assert.Equal(t, CircuitOpen, state)

	err := reg.AllowRequest("IBTAgent")
	require.Error(t, err)
	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, cxErr.Code)
}

func TestCircuitBreaker_SuccessResets(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 3,
		Cooldown:         time.Minute,
		HalfOpenMax:      1,
	})

	reg.RecordFailure("IBTAgent")
	reg.RecordFailure("IBTAgent")
	reg.RecordSuccess("IBTAgent")
	reg.RecordFailure("IBTAgent")
	reg.RecordFailure("IBTAgent")

	assert.Equal(t, CircuitClosed, reg.GetState("IBTAgent"))
}

func TestCircuitBreaker_CooldownToHalfOpen(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Nanosecond,
		HalfOpenMax:      1,
	})

	reg.RecordFailure("IBTAgent")
	time.Sleep(time.Millisecond)

	// First request after cooldown is the test request.
	assert.NoError(t, reg.AllowRequest("IBTAgent"))
	// Second is rejected until the test resolves.
	assert.Error(t, reg.AllowRequest("IBTAgent"))

	reg.RecordSuccess("IBTAgent")
	assert.Equal(t, CircuitClosed, reg.GetState("IBTAgent"))
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Nanosecond,
		HalfOpenMax:      1,
	})

	reg.RecordFailure("IBTAgent")
	time.Sleep(time.Millisecond)
	require.NoError(t, reg.AllowRequest("IBTAgent"))

	state := reg.RecordFailure("IBTAgent")
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuitBreaker_PerToolIsolation(t *testing.T) {
	reg := NewCircuitBreakerRegistry(CircuitBreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		HalfOpenMax:      1,
	})

	reg.RecordFailure("AgentA")
	assert.Error(t, reg.AllowRequest("AgentA"))
	assert.NoError(t, reg.AllowRequest("AgentB"))
}
