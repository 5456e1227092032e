package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/pkg/schema"
)

const (
	defaultClassifyTimeout = 30 * time.Second
	maxResponseBody        = 1 * 1024 * 1024 // 1MB
)

// responseSchemaJSON validates the oracle's answer before the core trusts
// it. Anything that fails here is a MALFORMED_RESPONSE.
const responseSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cortex.dev/schemas/classification.json",
  "type": "object",
  "required": ["candidates", "confidence"],
  "properties": {
    "candidates": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["tool_name", "confidence"],
        "properties": {
          "tool_name": { "type": "string", "minLength": 1 },
          "confidence": { "type": "number", "minimum": 0, "maximum": 10 },
          "reasoning": { "type": "string" },
          "parameters": { "type": "object" },
          "depends_on": { "type": "string" },
          "context_needed": { "type": "array", "items": { "type": "string", "minLength": 1 } },
          "condition": { "type": "string" }
        },
        "additionalProperties": false
      }
    },
    "confidence": { "type": "number", "minimum": 0, "maximum": 10 },
    "direct_response": { "type": "string" }
  },
  "additionalProperties": false
}`

var responseSchema = mustCompileResponseSchema()

func mustCompileResponseSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(responseSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal classification schema: %v", err))
	}
	if err := c.AddResource("https://cortex.dev/schemas/classification.json", doc); err != nil {
		panic(fmt.Sprintf("add classification schema resource: %v", err))
	}
	compiled, err := c.Compile("https://cortex.dev/schemas/classification.json")
	if err != nil {
		panic(fmt.Sprintf("compile classification schema: %v", err))
	}
	return compiled
}

// HTTPGateway talks to a classification service over JSON/HTTP.
type HTTPGateway struct {
	url     string
	client  *http.Client
	timeout time.Duration
}

// classifyRequest is the wire shape sent to the classification service.
type classifyRequest struct {
	Query        string        `json:"query"`
	History      []schema.Turn `json:"history,omitempty"`
	ToolsContext string        `json:"tools_context"`
}

// NewHTTPGateway creates a gateway for the given classifier endpoint.
// timeout <= 0 uses the default.
func NewHTTPGateway(url string, timeout time.Duration) *HTTPGateway {
	if timeout <= 0 {
		timeout = defaultClassifyTimeout
	}
	return &HTTPGateway{
		url:     url,
		client:  &http.Client{},
		timeout: timeout,
	}
}

// Classify posts the query, history, and rendered catalog context to the
// oracle and validates the answer against the classification schema.
func (g *HTTPGateway) Classify(ctx context.Context, query string, history []schema.Turn, cat *catalog.Catalog) (*schema.ClassificationResult, error) {
	body, err := json.Marshal(classifyRequest{
		Query:        query,
		History:      history,
		ToolsContext: BuildToolsContext(cat),
	})
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeClassification,
			"marshal classify request").WithCause(err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeClassification,
			"build classify request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, schema.NewError(schema.ErrCodeCancelled, "classification cancelled").WithCause(err)
		}
		return nil, schema.NewErrorf(schema.ErrCodeServiceUnavailable,
			"classifier unreachable: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeServiceUnavailable,
			"read classifier response").WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, schema.NewErrorf(schema.ErrCodeServiceUnavailable,
			"classifier returned %d", resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	return ParseResult(data)
}

// ParseResult validates raw classifier bytes against the classification
// schema and decodes them. Schema failures are MALFORMED_RESPONSE.
func ParseResult(data []byte) (*schema.ClassificationResult, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedResponse,
			"classifier response is not JSON: %v", err).WithCause(err)
	}
	if err := responseSchema.Validate(doc); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedResponse,
			"classifier response failed schema validation: %v", err).WithCause(err)
	}

	var result schema.ClassificationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeMalformedResponse,
			"decode classifier response: %v", err).WithCause(err)
	}
	return &result, nil
}

var _ Gateway = (*HTTPGateway)(nil)
