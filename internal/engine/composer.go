package engine

import (
	"time"

	"github.com/rendis/cortex/pkg/schema"
)

// ToolView is the caller-facing projection of a selected candidate.
type ToolView struct {
	Name       schema.ToolName `json:"toolName"`
	Confidence float64         `json:"confidence"`
	Reasoning  string          `json:"reasoning,omitempty"`
}

// Response is the terminal answer for one turn. Every path through the engine
// produces exactly one.
type Response struct {
	SessionID             string          `json:"sessionId"`
	TurnID                string          `json:"turnId"`
	SelectedTools         []ToolView      `json:"selectedTool"`
	Confidence            float64         `json:"confidence"`
	ResponseText          string          `json:"responseText"`
	Success               bool            `json:"success"`
	Reason                schema.Reason   `json:"reason,omitempty"`
	AwaitingClarification bool            `json:"awaitingClarification,omitempty"`
	ToolResults           []schema.ToolResult `json:"toolResults,omitempty"`
	ExecutionTimeMs       int64           `json:"execution_time_ms"`
	Timestamp             time.Time       `json:"timestamp"`
}

// Compose projects a finished turn state into the response envelope. It reads
// the state without mutating it, so composing the same state twice yields
// equal responses.
func Compose(state *schema.WorkflowState) *Response {
	completed := state.CompletedAt
	if completed.IsZero() {
		completed = time.Now().UTC()
	}
	views := make([]ToolView, 0, len(state.SelectedTools))
	for _, t := range state.SelectedTools {
		views = append(views, ToolView{
			Name:       t.Name,
			Confidence: t.Confidence,
			Reasoning:  t.Reasoning,
		})
	}

	success := state.FallbackReason == "" || state.FallbackReason == schema.ReasonConversational

	return &Response{
		SessionID:             state.SessionID,
		TurnID:                state.TurnID,
		SelectedTools:         views,
		Confidence:            state.Confidence,
		ResponseText:          state.FinalAnswer,
		Success:               success,
		Reason:                state.FallbackReason,
		AwaitingClarification: state.NeedsClarification,
		ToolResults:           state.ToolResults,
		ExecutionTimeMs:       completed.Sub(state.StartedAt).Milliseconds(),
		Timestamp:             completed,
	}
}
