// Package api contains the HTTP handlers for the invocation service.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/internal/engine"
	"github.com/rendis/cortex/pkg/schema"
)

// Server holds the dependencies for the API server.
type Server struct {
	engine  *engine.Engine
	catalog *catalog.Catalog
	logger  *slog.Logger
}

// NewServer creates a new Server.
func NewServer(eng *engine.Engine, cat *catalog.Catalog, logger *slog.Logger) *Server {
	return &Server{engine: eng, catalog: cat, logger: logger}
}

// Router builds the echo instance with all routes mounted.
func (s *Server) Router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	e.POST("/invocations", s.HandleInvocation)
	e.GET("/tools", s.ListTools)
	e.GET("/ping", s.Ping)

	return e
}

// HandleInvocation runs one conversational turn.
// (POST /invocations)
func (s *Server) HandleInvocation(c echo.Context) error {
	ctx := c.Request().Context()

	var req engine.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	resp, err := s.engine.HandleTurn(ctx, req)
	if err != nil {
		var cxErr *schema.CortexError
		if errors.As(err, &cxErr) && cxErr.Code == schema.ErrCodeValidation {
			return echo.NewHTTPError(http.StatusBadRequest, cxErr.Message)
		}
		s.logger.ErrorContext(ctx, "turn failed", slog.String("error", err.Error()))
		return echo.NewHTTPError(http.StatusInternalServerError, "turn failed")
	}

	return c.JSON(http.StatusOK, resp)
}

// ListTools returns the loaded tool catalog.
// (GET /tools)
func (s *Server) ListTools(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"tools": s.catalog.All(),
		"count": s.catalog.Len(),
	})
}

// Ping is the liveness probe.
// (GET /ping)
func (s *Server) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
