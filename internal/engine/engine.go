// Package engine drives one conversational turn from raw query to terminal
// response: classify, route on confidence, then execute, clarify, or fall
// back. Exactly one of those paths completes per turn.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/internal/classifier"
	"github.com/rendis/cortex/internal/logging"
	"github.com/rendis/cortex/internal/session"
	"github.com/rendis/cortex/pkg/schema"
)

// Config bounds a turn's behavior.
type Config struct {
	Thresholds             Thresholds
	Retry                  RetryPolicy
	MaxHistory             int
	MaxClarificationRounds int
	// RequestTimeout caps the whole turn. A turn that overruns it terminates
	// on the fallback path with service_unavailable.
	RequestTimeout time.Duration
}

// DefaultConfig returns the production turn bounds.
func DefaultConfig() Config {
	return Config{
		Thresholds:             DefaultThresholds(),
		Retry:                  DefaultRetryPolicy(),
		MaxHistory:             20,
		MaxClarificationRounds: 2,
		RequestTimeout:         60 * time.Second,
	}
}

// Request is one caller turn.
type Request struct {
	SessionID string            `json:"sessionId"`
	Query     string            `json:"userPrompt"`
	Context   map[string]string `json:"context,omitempty"`
}

// Engine orchestrates turns. Safe for concurrent use; turns for the same
// session serialize on a per-session lock.
type Engine struct {
	cfg      Config
	catalog  *catalog.Catalog
	sessions session.Store
	gateway  classifier.Gateway
	chain    *ChainRunner
	locks    *sessionLocks
	logger   *slog.Logger
}

// New wires an engine from its collaborators.
func New(cfg Config, cat *catalog.Catalog, sessions session.Store, gateway classifier.Gateway, chain *ChainRunner, logger *slog.Logger) *Engine {
	if cfg.Thresholds.High == 0 {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Engine{
		cfg:      cfg,
		catalog:  cat,
		sessions: sessions,
		gateway:  gateway,
		chain:    chain,
		locks:    newSessionLocks(),
		logger:   logger,
	}
}

// HandleTurn runs one turn to its terminal response. It returns an error only
// for request validation failures; every other failure mode terminates inside
// the turn as a fallback response. A concurrent-modification conflict on the
// final save is retried once against fresh session state before degrading to
// a transient-failure response.
func (e *Engine) HandleTurn(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	turnID := uuid.NewString()
	ctx = logging.WithSessionID(ctx, req.SessionID)
	ctx = logging.WithTurnID(ctx, turnID)

	if e.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.RequestTimeout)
		defer cancel()
	}

	release := e.locks.acquire(req.SessionID)
	defer release()

	resp, err := e.runTurn(ctx, req, turnID)
	if err != nil && isConflict(err) {
		e.logger.WarnContext(ctx, "session conflict, retrying turn once")
		resp, err = e.runTurn(ctx, req, turnID)
	}
	if err != nil {
		if !isConflict(err) {
			return nil, err
		}
		e.logger.ErrorContext(ctx, "session conflict persisted after retry")
		return e.transientResponse(req, turnID), nil
	}
	return resp, nil
}

// runTurn is one full pass: load session, classify, route, terminate, persist.
// The only error it returns is a save conflict; the caller decides whether to
// retry.
func (e *Engine) runTurn(ctx context.Context, req Request, turnID string) (*Response, error) {
	sess, err := e.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		e.logger.ErrorContext(ctx, "session load failed", slog.String("error", err.Error()))
		return e.transientResponse(req, turnID), nil
	}

	state := &schema.WorkflowState{
		TurnID:           turnID,
		SessionID:        req.SessionID,
		Query:            req.Query,
		Context:          req.Context,
		ExecutionContext: make(map[string]any),
		StartedAt:        time.Now().UTC(),
	}

	// A session awaiting clarification treats this query as the answer and
	// re-enters classification with the merged query.
	if sess.AwaitingClarification {
		state.Query = MergeClarification(sess.PendingQuery, req.Query)
		sess.AwaitingClarification = false
		sess.PendingQuery = ""
	}

	e.classifyAndRoute(ctx, state, sess)

	if !state.NeedsClarification {
		sess.ClarificationRounds = 0
	}

	state.CompletedAt = time.Now().UTC()

	sess.AppendTurn(schema.Turn{
		Role:      "user",
		Content:   req.Query,
		Timestamp: state.StartedAt,
	}, e.cfg.MaxHistory)
	sess.AppendTurn(schema.Turn{
		Role:      "assistant",
		Content:   state.FinalAnswer,
		Tool:      lastSuccessfulTool(state),
		Timestamp: state.CompletedAt,
	}, e.cfg.MaxHistory)

	if err := e.sessions.Save(ctx, sess); err != nil {
		if isConflict(err) {
			return nil, err
		}
		// Losing the history write is recoverable; losing the answer is not.
		e.logger.ErrorContext(ctx, "session save failed", slog.String("error", err.Error()))
	}

	return Compose(state), nil
}

// classifyAndRoute advances the state to exactly one terminal outcome.
func (e *Engine) classifyAndRoute(ctx context.Context, state *schema.WorkflowState, sess *session.Session) {
	result, err := e.gateway.Classify(ctx, state.Query, sess.History, e.catalog)
	if err != nil {
		e.logger.WarnContext(ctx, "classification failed", slog.String("error", err.Error()))
		applyFallback(state, schema.ReasonServiceUnavailable)
		return
	}

	state.SelectedTools = result.Candidates
	state.Confidence = result.Confidence
	state.DirectResponse = result.DirectResponse

	route, reason := Route(result, e.cfg.Thresholds)
	switch route {
	case schema.RouteExecute:
		e.execute(ctx, state)

	case schema.RouteClarify:
		if sess.ClarificationRounds >= e.cfg.MaxClarificationRounds {
			applyFallback(state, schema.ReasonClarificationExhausted)
			return
		}
		question := SynthesizeQuestion(result.Candidates, e.catalog)
		state.NeedsClarification = true
		state.ClarificationQuestion = question
		state.FinalAnswer = question
		state.Done = true
		sess.AwaitingClarification = true
		sess.PendingQuery = state.Query
		sess.ClarificationRounds++

	default:
		applyFallback(state, reason)
	}
}

// execute runs the tool chain and settles the final answer from the last
// successful payload.
func (e *Engine) execute(ctx context.Context, state *schema.WorkflowState) {
	if err := e.chain.Run(ctx, state); err != nil {
		e.logger.WarnContext(ctx, "tool chain failed", slog.String("error", err.Error()))
		applyFallback(state, chainFailureReason(err))
		return
	}

	for i := len(state.ToolResults) - 1; i >= 0; i-- {
		if state.ToolResults[i].Success {
			state.FinalAnswer = SummarizePayload(state.ToolResults[i].Payload)
			state.Done = true
			return
		}
	}
	// Every tool in the chain was skipped by its condition.
	applyFallback(state, schema.ReasonNoToolFound)
}

// chainFailureReason maps a chain error to the fallback reason shown to the
// caller.
func chainFailureReason(err error) schema.Reason {
	var cxErr *schema.CortexError
	if !errors.As(err, &cxErr) {
		return schema.ReasonToolFailure
	}
	switch cxErr.Code {
	case schema.ErrCodeNotFound:
		return schema.ReasonNoToolFound
	case schema.ErrCodeCircuitOpen, schema.ErrCodeCancelled, schema.ErrCodeTimeout:
		return schema.ReasonServiceUnavailable
	default:
		return schema.ReasonToolFailure
	}
}

// transientResponse is the terminal answer when the turn could not be run or
// persisted at all.
func (e *Engine) transientResponse(req Request, turnID string) *Response {
	now := time.Now().UTC()
	state := &schema.WorkflowState{
		TurnID:      turnID,
		SessionID:   req.SessionID,
		Query:       req.Query,
		StartedAt:   now,
		CompletedAt: now,
	}
	applyFallback(state, schema.ReasonServiceUnavailable)
	return Compose(state)
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.SessionID) == "" {
		return schema.NewError(schema.ErrCodeValidation, "sessionId is required")
	}
	if strings.TrimSpace(req.Query) == "" {
		return schema.NewError(schema.ErrCodeValidation, "userPrompt is required")
	}
	return nil
}

func isConflict(err error) bool {
	var cxErr *schema.CortexError
	return errors.As(err, &cxErr) && cxErr.Code == schema.ErrCodeConcurrentModification
}

func lastSuccessfulTool(state *schema.WorkflowState) schema.ToolName {
	for i := len(state.ToolResults) - 1; i >= 0; i-- {
		if state.ToolResults[i].Success {
			return state.ToolResults[i].Name
		}
	}
	return ""
}
