package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/internal/expressions"
	"github.com/rendis/cortex/internal/logging"
	"github.com/rendis/cortex/internal/tools"
	"github.com/rendis/cortex/pkg/schema"
)

// ChainRunner executes a turn's tool chain sequentially, driving the chain
// FSM through pending, retrying, and advancing until a terminal state.
type ChainRunner struct {
	catalog  *catalog.Catalog
	invoker  tools.Invoker
	breakers *CircuitBreakerRegistry
	policy   RetryPolicy

	cel  *expressions.CELEngine
	jq   *expressions.GoJQEngine
	expr *expressions.ExprEngine

	logger *slog.Logger
}

// NewChainRunner wires a runner from its collaborators.
func NewChainRunner(
	cat *catalog.Catalog,
	invoker tools.Invoker,
	breakers *CircuitBreakerRegistry,
	policy RetryPolicy,
	cel *expressions.CELEngine,
	jq *expressions.GoJQEngine,
	expr *expressions.ExprEngine,
	logger *slog.Logger,
) *ChainRunner {
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &ChainRunner{
		catalog:  cat,
		invoker:  invoker,
		breakers: breakers,
		policy:   policy,
		cel:      cel,
		jq:       jq,
		expr:     expr,
		logger:   logger,
	}
}

// Run executes the chain described by state.SelectedTools, recording a
// ToolResult per invoked tool and accumulating state.ExecutionContext. It
// returns nil when the chain reaches succeeded, or the terminal error when a
// tool exhausts its attempts, its circuit is open, or the turn is cancelled.
// The state's results and execution context keep whatever completed before
// the failure.
func (r *ChainRunner) Run(ctx context.Context, state *schema.WorkflowState) error {
	chain, err := r.buildChain(state.SelectedTools)
	if err != nil {
		return err
	}
	if len(chain) == 0 {
		return schema.NewError(schema.ErrCodeNotFound, "no invocable tools in selection")
	}

	fsm := NewChainFSM()
	if state.ExecutionContext == nil {
		state.ExecutionContext = make(map[string]any)
	}

	// Payload of the most recently completed tool. A tool skipped by its
	// condition leaves it untouched, so context_needed always reads from the
	// last tool that actually produced a payload.
	var prevPayload map[string]any

	for i, candidate := range chain {
		state.ToolIndex = i
		toolCtx := logging.WithTool(ctx, string(candidate.Name))

		def, err := r.catalog.Lookup(candidate.Name)
		if err != nil {
			return err
		}

		if i > 0 {
			r.extractContext(toolCtx, candidate, prevPayload, state.ExecutionContext)
		}

		scope := r.buildScope(state)

		if candidate.Condition != "" {
			pass, err := r.cel.EvaluateBool(toolCtx, candidate.Condition, scope)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"condition for tool %q: %s", candidate.Name, err.Error()).
					WithTool(string(candidate.Name)).WithCause(err)
			}
			if !pass {
				r.logger.InfoContext(toolCtx, "tool skipped by condition",
					slog.String("condition", candidate.Condition))
				if err := r.advance(fsm, i, len(chain)); err != nil {
					return err
				}
				continue
			}
		}

		params, err := r.bindParameters(toolCtx, candidate, scope)
		if err != nil {
			return err
		}

		payload, result, err := r.invokeWithRetry(toolCtx, def, tools.Request{
			Query:            state.Query,
			Parameters:       params,
			CallerContext:    state.Context,
			ExecutionContext: state.ExecutionContext,
		}, fsm)
		state.ToolResults = append(state.ToolResults, result)
		if result.Attempts > 1 {
			state.RetryCount += result.Attempts - 1
		}
		if err != nil {
			return err
		}

		prevPayload = payload
		if err := r.advance(fsm, i, len(chain)); err != nil {
			return err
		}
	}

	return nil
}

// buildChain filters the selection to invocable catalog tools, preserving
// classifier order, and checks that every depends_on target precedes its
// dependent.
func (r *ChainRunner) buildChain(selected []schema.SelectedTool) ([]schema.SelectedTool, error) {
	chain := make([]schema.SelectedTool, 0, len(selected))
	seen := make(map[schema.ToolName]struct{}, len(selected))
	for _, s := range selected {
		if s.Name.IsSentinel() {
			continue
		}
		if !r.catalog.Has(s.Name) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"selected tool %q not in catalog", s.Name)
		}
		if s.DependsOn != "" {
			if _, ok := seen[s.DependsOn]; !ok {
				return nil, schema.NewErrorf(schema.ErrCodeValidation,
					"tool %q depends on %q which does not precede it", s.Name, s.DependsOn).
					WithTool(string(s.Name))
			}
		}
		seen[s.Name] = struct{}{}
		chain = append(chain, s)
	}
	return chain, nil
}

// invokeWithRetry runs the bounded attempt loop for one tool. MaxAttempts
// counts every call, the first included.
func (r *ChainRunner) invokeWithRetry(ctx context.Context, def catalog.ToolDefinition, req tools.Request, fsm *ChainFSM) (map[string]any, schema.ToolResult, error) {
	result := schema.ToolResult{Name: def.Name}

	if err := r.breakers.AllowRequest(def.Name); err != nil {
		result.Error = err.Error()
		return nil, result, err
	}

	var lastErr error
	start := time.Now()
	for attempt := 0; attempt < r.policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := fsm.Transition(ChainPending); err != nil {
				return nil, result, err
			}
			delay := ComputeBackoff(r.policy, attempt-1)
			if err := WaitForBackoff(ctx, delay); err != nil {
				result.Error = err.Error()
				return nil, result, schema.NewError(schema.ErrCodeCancelled,
					"cancelled while waiting for retry").WithTool(string(def.Name)).WithCause(err)
			}
		}

		result.Attempts = attempt + 1
		payload, err := r.invoker.Invoke(ctx, def, req)
		if err == nil {
			result.Success = true
			result.Payload = payload
			result.DurationMs = time.Since(start).Milliseconds()
			r.breakers.RecordSuccess(def.Name)
			return payload, result, nil
		}

		lastErr = err
		r.breakers.RecordFailure(def.Name)
		r.logger.WarnContext(ctx, "tool invocation failed",
			slog.Int("attempt", attempt+1),
			slog.Int("max_attempts", r.policy.MaxAttempts),
			slog.String("error", err.Error()))

		if err := fsm.Transition(ChainRetrying); err != nil {
			return nil, result, err
		}
		if !IsRetryableError(err) {
			break
		}
	}

	result.DurationMs = time.Since(start).Milliseconds()
	result.Error = lastErr.Error()

	if ctx.Err() != nil {
		return nil, result, schema.NewError(schema.ErrCodeCancelled, "turn cancelled").
			WithTool(string(def.Name)).WithCause(lastErr)
	}

	if err := fsm.Transition(ChainExhausted); err != nil {
		return nil, result, err
	}
	return nil, result, schema.NewErrorf(schema.ErrCodeRetryExhausted,
		"tool failed after %d attempts: %s", result.Attempts, lastErr.Error()).
		WithTool(string(def.Name)).WithCause(lastErr)
}

// extractContext pulls the candidate's context_needed fields out of the
// previous tool's payload. Absent fields are omitted, never set to null.
func (r *ChainRunner) extractContext(ctx context.Context, candidate schema.SelectedTool, prevPayload map[string]any, execution map[string]any) {
	if len(candidate.ContextNeeded) == 0 || prevPayload == nil {
		return
	}
	for _, field := range candidate.ContextNeeded {
		val, present, err := r.jq.ExtractField(ctx, field, prevPayload)
		if err != nil {
			r.logger.WarnContext(ctx, "context extraction failed",
				slog.String("field", field),
				slog.String("error", err.Error()))
			continue
		}
		if !present {
			continue
		}
		execution[fieldKey(field)] = val
	}
}

// bindParameters interpolates ${...} placeholders in the candidate's string
// parameter values against the turn scope. Non-string values pass through.
func (r *ChainRunner) bindParameters(ctx context.Context, candidate schema.SelectedTool, scope map[string]any) (map[string]any, error) {
	if len(candidate.Parameters) == 0 {
		return map[string]any{}, nil
	}
	params := make(map[string]any, len(candidate.Parameters))
	for k, v := range candidate.Parameters {
		s, ok := v.(string)
		if !ok {
			params[k] = v
			continue
		}
		bound, err := r.expr.Interpolate(ctx, s, scope)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"parameter %q for tool %q: %s", k, candidate.Name, err.Error()).
				WithTool(string(candidate.Name)).WithCause(err)
		}
		params[k] = bound
	}
	return params, nil
}

func (r *ChainRunner) buildScope(state *schema.WorkflowState) map[string]any {
	context := make(map[string]any, len(state.Context))
	for k, v := range state.Context {
		context[k] = v
	}
	return map[string]any{
		"query":     state.Query,
		"context":   context,
		"execution": state.ExecutionContext,
	}
}

func (r *ChainRunner) advance(fsm *ChainFSM, index, total int) error {
	if index+1 < total {
		if err := fsm.Transition(ChainAdvancing); err != nil {
			return err
		}
		return fsm.Transition(ChainPending)
	}
	return fsm.Transition(ChainSucceeded)
}

// fieldKey normalizes a jq field query to its execution-context key: ".id"
// and "id" both store under "id"; deeper paths keep their dotted form.
func fieldKey(field string) string {
	if len(field) > 1 && field[0] == '.' {
		return field[1:]
	}
	return field
}

// SummarizePayload renders a tool payload for the final answer. A string
// "response" field wins; otherwise the payload is compact JSON.
func SummarizePayload(payload map[string]any) string {
	if payload == nil {
		return ""
	}
	if resp, ok := payload["response"].(string); ok && resp != "" {
		return resp
	}
	if msg, ok := payload["message"].(string); ok && msg != "" {
		return msg
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
