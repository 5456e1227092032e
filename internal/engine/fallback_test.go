package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rendis/cortex/pkg/schema"
)

func TestFallbackMessage_Verbatim(t *testing.T) {
	assert.Equal(t,
		"I'm sorry, I couldn't find the right resource to help with your question. "+
			"Please try rephrasing your query or contact our support team for assistance.",
		FallbackMessage(schema.ReasonNoToolFound))

	assert.Equal(t,
		"I'm not entirely sure I understand your question. "+
			"Could you please provide more details or rephrase your request?",
		FallbackMessage(schema.ReasonLowConfidence))

	assert.Equal(t,
		"I'm currently experiencing technical difficulties. "+
			"Please try again in a few moments or contact support if the issue persists.",
		FallbackMessage(schema.ReasonServiceUnavailable))
}

func TestFallbackMessage_EveryReasonHasText(t *testing.T) {
	reasons := []schema.Reason{
		schema.ReasonNoToolFound,
		schema.ReasonLowConfidence,
		schema.ReasonServiceUnavailable,
		schema.ReasonToolFailure,
		schema.ReasonClarificationExhausted,
	}
	for _, reason := range reasons {
		assert.NotEmpty(t, FallbackMessage(reason), "reason %s", reason)
	}
}

func TestFallbackMessage_UnknownReasonDegrades(t *testing.T) {
	assert.Equal(t, FallbackMessage(schema.ReasonServiceUnavailable), FallbackMessage("bogus"))
}

func TestApplyFallback_SetsTerminalState(t *testing.T) {
	state := &schema.WorkflowState{}
	applyFallback(state, schema.ReasonToolFailure)

	assert.True(t, state.Done)
	assert.Equal(t, schema.ReasonToolFailure, state.FallbackReason)
	assert.Equal(t, FallbackMessage(schema.ReasonToolFailure), state.FinalAnswer)
}

func TestApplyFallback_ConversationalKeepsDirectResponse(t *testing.T) {
	state := &schema.WorkflowState{DirectResponse: "Hi there! What can I do for you?"}
	applyFallback(state, schema.ReasonConversational)

	assert.True(t, state.Done)
	assert.Equal(t, "Hi there! What can I do for you?", state.FinalAnswer)
}

func TestApplyFallback_ConversationalWithoutDirectResponse(t *testing.T) {
	state := &schema.WorkflowState{}
	applyFallback(state, schema.ReasonConversational)

	assert.True(t, state.Done)
	assert.NotEmpty(t, state.FinalAnswer)
}
