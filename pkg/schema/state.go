package schema

import "time"

// Route is the confidence router's decision for a turn.
type Route string

const (
	RouteExecute  Route = "execute"
	RouteClarify  Route = "clarify"
	RouteFallback Route = "fallback"
)

// Reason identifies why a turn ended on the fallback path.
type Reason string

const (
	ReasonNoToolFound            Reason = "no_tool_found"
	ReasonLowConfidence          Reason = "low_confidence"
	ReasonServiceUnavailable     Reason = "service_unavailable"
	ReasonToolFailure            Reason = "tool_failure"
	ReasonClarificationExhausted Reason = "clarification_exhausted"
	ReasonConversational         Reason = "conversational"
)

// WorkflowState is the per-turn mutable state threaded through the workflow
// engine. It is created per request, consumed entirely by the engine, and
// discarded after its terminal write-back to the session. At most one
// WorkflowState is actively mutating for a given session at any instant.
type WorkflowState struct {
	TurnID    string
	Query     string
	SessionID string
	Context   map[string]string

	SelectedTools []SelectedTool
	ToolResults   []ToolResult
	ToolIndex     int
	Confidence    float64
	RetryCount    int

	// Execution context accumulated from completed tools' context_needed
	// extractions; visible to all subsequent tools in the chain.
	ExecutionContext map[string]any

	NeedsClarification    bool
	ClarificationQuestion string

	FallbackReason Reason
	DirectResponse string

	FinalAnswer string
	Done        bool

	StartedAt   time.Time
	CompletedAt time.Time
}

// Turn is one persisted entry in a session's conversation history.
type Turn struct {
	Role      string    `json:"role"` // user | assistant
	Content   string    `json:"content"`
	Tool      ToolName  `json:"tool,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
