package engine

import "github.com/rendis/cortex/pkg/schema"

// Thresholds are the confidence cut points for routing.
type Thresholds struct {
	// High is the minimum confidence to execute directly.
	High float64
	// Low is the minimum confidence to ask for clarification; anything
	// below it falls back.
	Low float64
}

// DefaultThresholds returns the production cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 7.0, Low: 5.0}
}

// Route is the pure guard-rails decision. The top candidate is the first in
// classifier-returned order; ties on confidence keep that order, so the
// decision is deterministic.
//
// Decision table:
//   - top candidate is a sentinel (NO_TOOL / CONVERSATIONAL): fallback
//   - confidence >= High:                                     execute
//   - Low <= confidence < High:                               clarify
//   - confidence < Low:                                       fallback
//
// The second return value carries the fallback reason; it is empty for
// execute and clarify.
func Route(result *schema.ClassificationResult, t Thresholds) (schema.Route, schema.Reason) {
	top, ok := result.Top()
	if !ok {
		return schema.RouteFallback, schema.ReasonNoToolFound
	}

	switch top.Name {
	case schema.ToolConversational:
		return schema.RouteFallback, schema.ReasonConversational
	case schema.ToolNone:
		return schema.RouteFallback, schema.ReasonNoToolFound
	}

	confidence := result.Confidence
	switch {
	case confidence >= t.High:
		return schema.RouteExecute, ""
	case confidence >= t.Low:
		return schema.RouteClarify, ""
	default:
		return schema.RouteFallback, schema.ReasonLowConfidence
	}
}
