// Package mcp exposes the conversational engine to agents over the Model
// Context Protocol.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/internal/engine"
	"github.com/rendis/cortex/internal/session"
)

// CortexServerDeps holds the dependencies for creating a CortexServer.
type CortexServerDeps struct {
	Engine   *engine.Engine
	Catalog  *catalog.Catalog
	Sessions session.Store
	Logger   *slog.Logger
}

// CortexServer wraps an MCP server with cortex-specific tool handlers.
type CortexServer struct {
	engine    *engine.Engine
	catalog   *catalog.Catalog
	sessions  session.Store
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewCortexServer creates a new CortexServer with all 3 tools registered.
func NewCortexServer(deps CortexServerDeps) *CortexServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &CortexServer{
		engine:   deps.Engine,
		catalog:  deps.Catalog,
		sessions: deps.Sessions,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"cortex",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Cortex routes natural-language requests to backend tools. Use cortex.invoke to run a conversational turn, cortex.tools to inspect the tool catalog, and cortex.session to inspect or reset a session."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *CortexServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *CortexServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *CortexServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: invokeTool(), Handler: s.handleInvoke},
		{Tool: toolsTool(), Handler: s.handleTools},
		{Tool: sessionTool(), Handler: s.handleSession},
	}
}

// --- Tool definitions ---

func invokeTool() mcp.Tool {
	return mcp.NewTool("cortex.invoke",
		mcp.WithDescription("Run one conversational turn: classify the query, route it, and execute the matched backend tool"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session identifier")),
		mcp.WithString("query", mcp.Required(), mcp.Description("The user's natural-language request")),
		mcp.WithObject("context", mcp.Description("Caller context passed through to tools (user name, source, ...)")),
	)
}

func toolsTool() mcp.Tool {
	return mcp.NewTool("cortex.tools",
		mcp.WithDescription("List the loaded tool catalog"),
	)
}

func sessionTool() mcp.Tool {
	return mcp.NewTool("cortex.session",
		mcp.WithDescription("Inspect or reset a conversation session"),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Conversation session identifier")),
		mcp.WithString("action", mcp.Enum("get", "reset"), mcp.Description("Operation to perform (default: get)")),
	)
}
