package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/cortex/internal/engine"
)

// handleInvoke runs one conversational turn.
func (s *CortexServer) handleInvoke(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query is required"), nil
	}

	callerContext := map[string]string{}
	for k, v := range mcp.ParseStringMap(req, "context", nil) {
		callerContext[k] = fmt.Sprintf("%v", v)
	}

	resp, turnErr := s.engine.HandleTurn(ctx, engine.Request{
		SessionID: sessionID,
		Query:     query,
		Context:   callerContext,
	})
	if turnErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("turn failed: %v", turnErr)), nil
	}

	return marshalResult(resp)
}

// handleTools lists the catalog.
func (s *CortexServer) handleTools(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{
		"tools": s.catalog.All(),
		"count": s.catalog.Len(),
	})
}

// handleSession inspects or resets a session.
func (s *CortexServer) handleSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := req.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	action := req.GetString("action", "get")

	switch action {
	case "reset":
		if delErr := s.sessions.Delete(ctx, sessionID); delErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("reset failed: %v", delErr)), nil
		}
		return marshalResult(map[string]any{"ok": true, "session_id": sessionID, "reset": true})

	case "get":
		sess, getErr := s.sessions.GetOrCreate(ctx, sessionID)
		if getErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("session lookup failed: %v", getErr)), nil
		}
		return marshalResult(sess)

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown action %q", action)), nil
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
