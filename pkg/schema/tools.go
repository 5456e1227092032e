package schema

// ToolName identifies a capability handler in the catalog, or one of the
// classifier sentinels.
type ToolName string

// Classifier sentinels. These are valid ToolName values that never resolve
// to a catalog entry.
const (
	ToolNone           ToolName = "NO_TOOL"
	ToolConversational ToolName = "CONVERSATIONAL"
)

// IsSentinel reports whether the name is one of the classifier sentinels.
func (n ToolName) IsSentinel() bool {
	return n == ToolNone || n == ToolConversational
}

// SelectedTool is one ranked candidate produced by the classifier.
type SelectedTool struct {
	Name       ToolName       `json:"tool_name"`
	Confidence float64        `json:"confidence"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
	// DependsOn names the tool that must complete before this one.
	DependsOn ToolName `json:"depends_on,omitempty"`
	// ContextNeeded lists fields to extract from the previous tool's
	// response payload into the execution context. Each entry is a jq
	// field query (a bare name is treated as ".name").
	ContextNeeded []string `json:"context_needed,omitempty"`
	// Condition is an optional CEL guard evaluated against the turn scope
	// before invocation; false skips the tool.
	Condition string `json:"condition,omitempty"`
}

// ToolResult records the outcome of one tool invocation.
// Immutable once recorded.
type ToolResult struct {
	Name       ToolName       `json:"tool_name"`
	Success    bool           `json:"success"`
	Payload    map[string]any `json:"payload,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
}

// ClassificationResult is the classifier gateway's answer for one query.
type ClassificationResult struct {
	Candidates []SelectedTool `json:"candidates"`
	Confidence float64        `json:"confidence"`
	// DirectResponse carries the classifier's own reply for
	// CONVERSATIONAL queries (greetings, thanks).
	DirectResponse string `json:"direct_response,omitempty"`
}

// Top returns the highest-ranked candidate. Ties keep classifier order, so
// the first entry always wins.
func (r *ClassificationResult) Top() (SelectedTool, bool) {
	if r == nil || len(r.Candidates) == 0 {
		return SelectedTool{}, false
	}
	return r.Candidates[0], true
}
