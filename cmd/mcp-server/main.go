// Package main provides the MCP server entry point for educational content retrieval.
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

	"github.com/bull/edu-rag-server/internal/app"
	"github.com/bull/edu-rag-server/internal/config"
	"github.com/bull/edu-rag-server/internal/logger"
	mcpserver "github.com/bull/edu-rag-server/internal/mcp"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Engine.StartWarmer(ctx); err != nil {
		log.Warn("Cache warmer not started", "error", err)
	}

	server := mcpserver.NewServer(&mcpserver.Config{Engine: a.Engine, Version: version})
	health := mcpserver.NewHealthHandler(mcpserver.HealthDeps{
		Vectors:  a.Vectors,
		Keywords: a.Chunks,
		Cache:    a.Cache,
	})
	var handler http.Handler = mcpserver.NewHealthMux(health)
	if cfg.ServerMode {
		handler = mcpserver.NewMux(server, health, &mcpserver.HTTPHandlerOptions{Stateless: cfg.MCPStateless})
	}
	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	if cfg.ServerMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		log.Info("Starting HTTP server", "addr", httpServer.Addr, "mcp", "/mcp", "health", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}

	// Stdio mode: MCP over stdin/stdout, health endpoint in the background
	go func() {
		log.Info("Starting health server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("Health server error", "error", err)
		}
	}()

	log.Info("Starting educational content MCP server (stdio mode)")
	return server.Run(ctx)
}
