package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rendis/cortex/internal/api"
	"github.com/rendis/cortex/internal/catalog"
	"github.com/rendis/cortex/internal/classifier"
	"github.com/rendis/cortex/internal/engine"
	"github.com/rendis/cortex/internal/expressions"
	"github.com/rendis/cortex/internal/logging"
	"github.com/rendis/cortex/internal/session"
	"github.com/rendis/cortex/internal/tools"
	"github.com/rendis/cortex/pkg/mcp"
)

func main() {
	cfg := loadConfig()
	logger := newLogger(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("cortex exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cat, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return err
	}
	logger.Info("tool catalog loaded",
		slog.String("path", cfg.CatalogPath),
		slog.Int("tools", cat.Len()))

	ttl := time.Duration(cfg.SessionTTLSeconds) * time.Second
	var sessions session.Store
	if cfg.DBPath != "" {
		sessions, err = session.NewLibSQLStore(cfg.DBPath, ttl)
		if err != nil {
			return err
		}
	} else {
		sessions = session.NewMemoryStore(ttl)
	}
	defer sessions.Close()

	sweeper, err := session.NewSweeper(sessions, cfg.EvictionSchedule, logger)
	if err != nil {
		return err
	}
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	defer sweeper.Stop()

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	chain := engine.NewChainRunner(
		cat,
		tools.NewHTTPInvoker(tools.WithTimeout(time.Duration(cfg.ToolTimeoutSeconds)*time.Second)),
		engine.NewCircuitBreakerRegistry(engine.DefaultCircuitBreakerConfig()),
		engine.RetryPolicy{
			MaxAttempts: cfg.ToolMaxRetries,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		celEngine,
		expressions.NewGoJQEngine(),
		expressions.NewExprEngine(),
		logger,
	)

	gateway := classifier.NewHTTPGateway(cfg.ClassifierURL, 30*time.Second)

	eng := engine.New(engine.Config{
		Thresholds: engine.Thresholds{
			High: cfg.HighConfidence,
			Low:  cfg.LowConfidence,
		},
		Retry: engine.RetryPolicy{
			MaxAttempts: cfg.ToolMaxRetries,
			BaseDelay:   500 * time.Millisecond,
			MaxDelay:    5 * time.Second,
		},
		MaxHistory:             cfg.MaxConversationHistory,
		MaxClarificationRounds: cfg.MaxClarificationRounds,
		RequestTimeout:         time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, cat, sessions, gateway, chain, logger)

	if cfg.MCP {
		logger.Info("starting MCP stdio transport")
		srv := mcp.NewCortexServer(mcp.CortexServerDeps{
			Engine:   eng,
			Catalog:  cat,
			Sessions: sessions,
			Logger:   logger,
		})
		return srv.Serve(ctx)
	}

	router := api.NewServer(eng, cat, logger).Router()
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}
