package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/internal/expressions"
	"github.com/rendis/cortex/internal/tools"
	"github.com/rendis/cortex/pkg/schema"
)

// fakeInvoker scripts per-tool outcomes. A tool's script is consumed one
// entry per attempt; the last entry repeats.
type fakeInvoker struct {
	scripts  map[schema.ToolName][]fakeOutcome
	attempts map[schema.ToolName]int
	requests map[schema.ToolName][]tools.Request
}

type fakeOutcome struct {
	payload map[string]any
	err     error
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		scripts:  make(map[schema.ToolName][]fakeOutcome),
		attempts: make(map[schema.ToolName]int),
		requests: make(map[schema.ToolName][]tools.Request),
	}
}

func (f *fakeInvoker) script(name schema.ToolName, outcomes ...fakeOutcome) {
	f.scripts[name] = outcomes
}

func (f *fakeInvoker) Invoke(_ context.Context, def catalog.ToolDefinition, req tools.Request) (map[string]any, error) {
	f.requests[def.Name] = append(f.requests[def.Name], req)
	i := f.attempts[def.Name]
	f.attempts[def.Name]++

	script := f.scripts[def.Name]
	if len(script) == 0 {
		return nil, errors.New("no script for tool")
	}
	if i >= len(script) {
		i = len(script) - 1
	}
	return script[i].payload, script[i].err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func runnerCatalog(t *testing.T, names ...string) *catalog.Catalog {
	t.Helper()
	defs := make([]catalog.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, catalog.ToolDefinition{
			Name:        schema.ToolName(name),
			Description: "agent " + name,
			Endpoint:    "http://tools.local/" + name,
		})
	}
	cat, err := catalog.New(defs)
	require.NoError(t, err)
	return cat
}

func newTestRunner(t *testing.T, cat *catalog.Catalog, invoker tools.Invoker, policy RetryPolicy) *ChainRunner {
	t.Helper()
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	return NewChainRunner(
		cat,
		invoker,
		NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 100, Cooldown: 0, HalfOpenMax: 1}),
		policy,
		cel,
		expressions.NewGoJQEngine(),
		expressions.NewExprEngine(),
		testLogger(),
	)
}

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 0, MaxDelay: 0}
}

func TestChainRunner_SingleToolSuccess(t *testing.T) {
	cat := runnerCatalog(t, "IBTAgent")
	inv := newFakeInvoker()
	inv.script("IBTAgent", fakeOutcome{payload: map[string]any{"response": "found it"}})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query:         "what happened with my deposit",
		SelectedTools: []schema.SelectedTool{{Name: "IBTAgent", Confidence: 9.0}},
	}

	require.NoError(t, runner.Run(context.Background(), state))
	require.Len(t, state.ToolResults, 1)
	assert.True(t, state.ToolResults[0].Success)
	assert.Equal(t, 1, state.ToolResults[0].Attempts)
}

func TestChainRunner_RetryThenSuccess(t *testing.T) {
	cat := runnerCatalog(t, "IBTAgent")
	inv := newFakeInvoker()
	inv.script("IBTAgent",
		fakeOutcome{err: errors.New("connection refused")},
		fakeOutcome{payload: map[string]any{"response": "ok"}},
	)

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query:         "q",
		SelectedTools: []schema.SelectedTool{{Name: "IBTAgent", Confidence: 9.0}},
	}

	require.NoError(t, runner.Run(context.Background(), state))
	require.Len(t, state.ToolResults, 1)
	assert.True(t, state.ToolResults[0].Success)
	assert.Equal(t, 2, state.ToolResults[0].Attempts)
	assert.Equal(t, 1, state.RetryCount)
}

func TestChainRunner_ExhaustsAfterExactlyMaxAttempts(t *testing.T) {
	cat := runnerCatalog(t, "IBTAgent")
	inv := newFakeInvoker()
	inv.script("IBTAgent", fakeOutcome{err: errors.New("connection refused")})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query:         "q",
		SelectedTools: []schema.SelectedTool{{Name: "IBTAgent", Confidence: 9.0}},
	}

	err := runner.Run(context.Background(), state)
	require.Error(t, err)

	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeRetryExhausted, cxErr.Code)
	assert.Equal(t, "IBTAgent", cxErr.Tool)

	assert.Equal(t, 3, inv.attempts["IBTAgent"])
	require.Len(t, state.ToolResults, 1)
	assert.False(t, state.ToolResults[0].Success)
	assert.Equal(t, 3, state.ToolResults[0].Attempts)
}

func TestChainRunner_NonRetryableStopsImmediately(t *testing.T) {
	cat := runnerCatalog(t, "IBTAgent")
	inv := newFakeInvoker()
	inv.script("IBTAgent", fakeOutcome{err: schema.NewError(schema.ErrCodeValidation, "missing param")})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query:         "q",
		SelectedTools: []schema.SelectedTool{{Name: "IBTAgent", Confidence: 9.0}},
	}

	err := runner.Run(context.Background(), state)
	require.Error(t, err)
	assert.Equal(t, 1, inv.attempts["IBTAgent"])
}

func TestChainRunner_ContextExtractedFromPreviousPayload(t *testing.T) {
	cat := runnerCatalog(t, "AgentA", "AgentB")
	inv := newFakeInvoker()
	inv.script("AgentA", fakeOutcome{payload: map[string]any{
		"account_id": "acc-42",
		"response":   "looked up",
	}})
	inv.script("AgentB", fakeOutcome{payload: map[string]any{"response": "done"}})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query: "q",
		SelectedTools: []schema.SelectedTool{
			{Name: "AgentA", Confidence: 9.0},
			{Name: "AgentB", Confidence: 8.0, ContextNeeded: []string{"account_id", "missing_field"}},
		},
	}

	require.NoError(t, runner.Run(context.Background(), state))

	// Present field lands in the execution context; absent field is omitted,
	// not set to nil.
	assert.Equal(t, "acc-42", state.ExecutionContext["account_id"])
	_, exists := state.ExecutionContext["missing_field"]
	assert.False(t, exists)

	// The second tool saw the accumulated execution context.
	reqs := inv.requests["AgentB"]
	require.Len(t, reqs, 1)
	assert.Equal(t, "acc-42", reqs[0].ExecutionContext["account_id"])
}

func TestChainRunner_FailureKeepsCompletedResults(t *testing.T) {
	cat := runnerCatalog(t, "AgentA", "AgentB")
	inv := newFakeInvoker()
	inv.script("AgentA", fakeOutcome{payload: map[string]any{"response": "first ok"}})
	inv.script("AgentB", fakeOutcome{err: errors.New("connection refused")})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query: "q",
		SelectedTools: []schema.SelectedTool{
			{Name: "AgentA", Confidence: 9.0},
			{Name: "AgentB", Confidence: 8.0},
		},
	}

	err := runner.Run(context.Background(), state)
	require.Error(t, err)
	require.Len(t, state.ToolResults, 2)
	assert.True(t, state.ToolResults[0].Success)
	assert.False(t, state.ToolResults[1].Success)
}

func TestChainRunner_CircuitOpenRejectionKeepsRetryCountZero(t *testing.T) {
	cat := runnerCatalog(t, "IBTAgent")
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	breakers := NewCircuitBreakerRegistry(CircuitBreakerConfig{FailureThreshold: 1, Cooldown: time.Hour, HalfOpenMax: 1})
	breakers.RecordFailure("IBTAgent")

	runner := NewChainRunner(
		cat,
		newFakeInvoker(),
		breakers,
		fastPolicy(),
		cel,
		expressions.NewGoJQEngine(),
		expressions.NewExprEngine(),
		testLogger(),
	)
	state := &schema.WorkflowState{
		Query:         "q",
		SelectedTools: []schema.SelectedTool{{Name: "IBTAgent", Confidence: 9.0}},
	}

	err = runner.Run(context.Background(), state)
	require.Error(t, err)

	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeCircuitOpen, cxErr.Code)

	// The breaker rejected before the first attempt; no retries were spent.
	assert.Equal(t, 0, state.RetryCount)
	require.Len(t, state.ToolResults, 1)
	assert.Equal(t, 0, state.ToolResults[0].Attempts)
}

func TestChainRunner_ConditionSkipsTool(t *testing.T) {
	cat := runnerCatalog(t, "AgentA", "AgentB")
	inv := newFakeInvoker()
	inv.script("AgentA", fakeOutcome{payload: map[string]any{"response": "ran"}})
	inv.script("AgentB", fakeOutcome{payload: map[string]any{"response": "should not run"}})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query: "q",
		SelectedTools: []schema.SelectedTool{
			{Name: "AgentA", Confidence: 9.0},
			{Name: "AgentB", Confidence: 8.0, Condition: `query == "something else"`},
		},
	}

	require.NoError(t, runner.Run(context.Background(), state))
	assert.Equal(t, 1, inv.attempts["AgentA"])
	assert.Equal(t, 0, inv.attempts["AgentB"])
	require.Len(t, state.ToolResults, 1)
}

func TestChainRunner_SkippedToolIsTransparentToContextExtraction(t *testing.T) {
	cat := runnerCatalog(t, "AgentA", "AgentB", "AgentC")
	inv := newFakeInvoker()
	inv.script("AgentA", fakeOutcome{payload: map[string]any{
		"account_id": "acc-7",
		"response":   "looked up",
	}})
	inv.script("AgentB", fakeOutcome{payload: map[string]any{"response": "should not run"}})
	inv.script("AgentC", fakeOutcome{payload: map[string]any{"response": "done"}})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query: "q",
		SelectedTools: []schema.SelectedTool{
			{Name: "AgentA", Confidence: 9.0},
			{Name: "AgentB", Confidence: 8.0, Condition: `query == "something else"`},
			{Name: "AgentC", Confidence: 8.0, ContextNeeded: []string{"account_id"}},
		},
	}

	require.NoError(t, runner.Run(context.Background(), state))
	assert.Equal(t, 0, inv.attempts["AgentB"])

	// AgentC reads from the last tool that actually produced a payload.
	assert.Equal(t, "acc-7", state.ExecutionContext["account_id"])
	reqs := inv.requests["AgentC"]
	require.Len(t, reqs, 1)
	assert.Equal(t, "acc-7", reqs[0].ExecutionContext["account_id"])
}

func TestChainRunner_ParameterInterpolation(t *testing.T) {
	cat := runnerCatalog(t, "AgentA")
	inv := newFakeInvoker()
	inv.script("AgentA", fakeOutcome{payload: map[string]any{"response": "ok"}})

	runner := newTestRunner(t, cat, inv, fastPolicy())
	state := &schema.WorkflowState{
		Query:   "block my card",
		Context: map[string]string{"userName": "ana"},
		SelectedTools: []schema.SelectedTool{
			{Name: "AgentA", Confidence: 9.0, Parameters: map[string]any{
				"who":   "${context.userName}",
				"q":     "request: ${query}",
				"count": 3,
			}},
		},
	}

	require.NoError(t, runner.Run(context.Background(), state))
	reqs := inv.requests["AgentA"]
	require.Len(t, reqs, 1)
	assert.Equal(t, "ana", reqs[0].Parameters["who"])
	assert.Equal(t, "request: block my card", reqs[0].Parameters["q"])
	assert.Equal(t, 3, reqs[0].Parameters["count"])
}

func TestChainRunner_UnknownToolFails(t *testing.T) {
	cat := runnerCatalog(t, "AgentA")
	runner := newTestRunner(t, cat, newFakeInvoker(), fastPolicy())
	state := &schema.WorkflowState{
		Query:         "q",
		SelectedTools: []schema.SelectedTool{{Name: "Ghost", Confidence: 9.0}},
	}

	err := runner.Run(context.Background(), state)
	require.Error(t, err)

	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeNotFound, cxErr.Code)
}

func TestChainRunner_DependsOnMustPrecede(t *testing.T) {
	cat := runnerCatalog(t, "AgentA", "AgentB")
	runner := newTestRunner(t, cat, newFakeInvoker(), fastPolicy())
	state := &schema.WorkflowState{
		Query: "q",
		SelectedTools: []schema.SelectedTool{
			{Name: "AgentB", Confidence: 9.0, DependsOn: "AgentA"},
			{Name: "AgentA", Confidence: 8.0},
		},
	}

	err := runner.Run(context.Background(), state)
	require.Error(t, err)

	var cxErr *schema.CortexError
	require.ErrorAs(t, err, &cxErr)
	assert.Equal(t, schema.ErrCodeValidation, cxErr.Code)
}

func TestSummarizePayload(t *testing.T) {
	assert.Equal(t, "hi", SummarizePayload(map[string]any{"response": "hi"}))
	assert.Equal(t, "msg", SummarizePayload(map[string]any{"message": "msg"}))
	assert.Equal(t, `{"n":1}`, SummarizePayload(map[string]any{"n": 1}))
	assert.Equal(t, "", SummarizePayload(nil))
}
