package engine

import "github.com/rendis/cortex/pkg/schema"

// fallbackMessages maps each terminal fallback reason to its fixed user-facing
// text. The texts are stable product copy; tests assert them verbatim.
var fallbackMessages = map[schema.Reason]string{
	schema.ReasonNoToolFound: "I'm sorry, I couldn't find the right resource to help with your question. " +
		"Please try rephrasing your query or contact our support team for assistance.",
	schema.ReasonLowConfidence: "I'm not entirely sure I understand your question. " +
		"Could you please provide more details or rephrase your request?",
	schema.ReasonServiceUnavailable: "I'm currently experiencing technical difficulties. " +
		"Please try again in a few moments or contact support if the issue persists.",
	schema.ReasonToolFailure: "I wasn't able to complete that request right now. " +
		"Please try again in a few moments or contact support if the issue persists.",
	schema.ReasonClarificationExhausted: "I still wasn't able to pin down what you need. " +
		"Please contact our support team for assistance with this request.",
}

// FallbackMessage returns the graceful response for a fallback reason. It
// never fails; an unknown reason degrades to the service_unavailable text.
func FallbackMessage(reason schema.Reason) string {
	if msg, ok := fallbackMessages[reason]; ok {
		return msg
	}
	return fallbackMessages[schema.ReasonServiceUnavailable]
}

// applyFallback terminates the turn on the fallback path. A conversational
// turn keeps the classifier's own reply; every other reason maps to its fixed
// message.
func applyFallback(state *schema.WorkflowState, reason schema.Reason) {
	state.FallbackReason = reason
	switch {
	case reason == schema.ReasonConversational && state.DirectResponse != "":
		state.FinalAnswer = state.DirectResponse
	case reason == schema.ReasonConversational:
		state.FinalAnswer = "Hello! How can I help you today?"
	default:
		state.FinalAnswer = FallbackMessage(reason)
	}
	state.Done = true
}
