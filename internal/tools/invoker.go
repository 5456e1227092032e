// Package tools performs the actual endpoint calls for catalog tools. The
// invocation engine owns retry and chaining; this package is one attempt,
// one request.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/pkg/schema"
)

const (
	defaultMaxResponseBody = 1 * 1024 * 1024 // 1MB
	defaultInvokeTimeout   = 30 * time.Second
)

// Request is the payload sent to a tool endpoint for one invocation.
type Request struct {
	Query string `json:"query"`
	// Parameters are the classifier-extracted bindings after interpolation.
	Parameters map[string]any `json:"parameters,omitempty"`
	// CallerContext is the caller-supplied request context, passed through
	// unchanged.
	CallerContext map[string]string `json:"callerContext,omitempty"`
	// ExecutionContext carries fields extracted from earlier tools in the
	// chain.
	ExecutionContext map[string]any `json:"executionContext,omitempty"`
}

// response is the envelope a tool endpoint answers with.
type response struct {
	OK      bool           `json:"ok"`
	Payload map[string]any `json:"payload,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Invoker executes a single tool invocation attempt.
type Invoker interface {
	Invoke(ctx context.Context, def catalog.ToolDefinition, req Request) (map[string]any, error)
}

// HTTPInvoker calls tool endpoints over HTTP POST.
type HTTPInvoker struct {
	client          *http.Client
	timeout         time.Duration
	maxResponseBody int64
}

// HTTPInvokerOption configures an HTTPInvoker.
type HTTPInvokerOption func(*HTTPInvoker)

// WithTimeout sets the per-attempt timeout.
func WithTimeout(d time.Duration) HTTPInvokerOption {
	return func(inv *HTTPInvoker) {
		if d > 0 {
			inv.timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying client, mainly for tests.
func WithHTTPClient(c *http.Client) HTTPInvokerOption {
	return func(inv *HTTPInvoker) {
		if c != nil {
			inv.client = c
		}
	}
}

// NewHTTPInvoker creates an invoker with production defaults.
func NewHTTPInvoker(opts ...HTTPInvokerOption) *HTTPInvoker {
	inv := &HTTPInvoker{
		client:          &http.Client{},
		timeout:         defaultInvokeTimeout,
		maxResponseBody: defaultMaxResponseBody,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke sends one request to the tool's endpoint and returns its payload.
// Required parameters are checked before the call; a missing one fails the
// attempt without touching the network and is not retried.
func (inv *HTTPInvoker) Invoke(ctx context.Context, def catalog.ToolDefinition, req Request) (map[string]any, error) {
	if err := checkRequiredParams(def, req.Parameters); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolInvocation,
			"marshal request: %s", err.Error()).WithTool(string(def.Name)).WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, def.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolInvocation,
			"build request: %s", err.Error()).WithTool(string(def.Name)).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := inv.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, schema.NewError(schema.ErrCodeCancelled, "invocation cancelled").
				WithTool(string(def.Name)).WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeToolInvocation,
			"request failed: %v", err).WithTool(string(def.Name)).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, inv.maxResponseBody))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolInvocation,
			"read response: %s", err.Error()).WithTool(string(def.Name)).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		code := schema.ErrCodeToolInvocation
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			code = schema.ErrCodeValidation
		}
		return nil, schema.NewErrorf(code, "tool endpoint returned %d", resp.StatusCode).
			WithTool(string(def.Name)).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}

	var envelope response
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeToolInvocation,
			"decode response: %s", err.Error()).WithTool(string(def.Name)).WithCause(err)
	}
	if !envelope.OK {
		msg := envelope.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		return nil, schema.NewErrorf(schema.ErrCodeToolInvocation, "%s", msg).
			WithTool(string(def.Name))
	}
	return envelope.Payload, nil
}

func checkRequiredParams(def catalog.ToolDefinition, params map[string]any) error {
	var missing []string
	for _, name := range def.Parameters.Required {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"missing required parameters: %s", fmt.Sprintf("%v", missing)).
			WithTool(string(def.Name)).
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}
