package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agentfleet/agentfleet/internal/adapter/claude"
	afhttp "github.com/agentfleet/agentfleet/internal/adapter/http"
	afmcp "github.com/agentfleet/agentfleet/internal/adapter/mcp"
	afnats "github.com/agentfleet/agentfleet/internal/adapter/nats"
	"github.com/agentfleet/agentfleet/internal/adapter/otel"
	"github.com/agentfleet/agentfleet/internal/adapter/ristretto"
	"github.com/agentfleet/agentfleet/internal/adapter/ws"
	"github.com/agentfleet/agentfleet/internal/config"
	"github.com/agentfleet/agentfleet/internal/fleet"
	"github.com/agentfleet/agentfleet/internal/logger"
	"github.com/agentfleet/agentfleet/internal/mcppool"
	"github.com/agentfleet/agentfleet/internal/middleware"
	"github.com/agentfleet/agentfleet/internal/port/broadcast"
	"github.com/agentfleet/agentfleet/internal/resilience"
)

const version = "0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"max_agents", cfg.Fleet.MaxAgents,
		"autoscale", cfg.Autoscale.Enabled,
		"mcp", cfg.MCP.Enabled,
	)

	ctx := context.Background()

	// --- Observability ---

	if cfg.Otel.Enabled {
		shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
		if err != nil {
			return fmt.Errorf("otel: %w", err)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownMetrics(flushCtx); err != nil {
				slog.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// Instruments are no-ops until a meter provider is installed, so they
	// are created unconditionally.
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel instruments: %w", err)
	}

	// --- Event fan-out ---

	hub := ws.NewHub()
	broadcasters := broadcast.Multi{hub}

	if cfg.NATS.Enabled {
		pub, err := afnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = pub.Close() }()
		broadcasters = append(broadcasters, pub)
	}

	// --- Fleet ---

	adapter := claude.New(cfg.Runtime)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	registry := fleet.NewRegistry(cfg.Fleet, cfg.Runtime, adapter)
	registry.SetBreaker(breaker)
	registry.SetBroadcaster(broadcasters)

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()
	registry.SetCache(cache, cfg.Cache.TTL)

	var pool *mcppool.Manager
	if cfg.MCP.Enabled {
		pool = mcppool.NewManager(cfg.MCP, mcppool.NewStdioConnector())
		pool.Run()
	}

	scaler := fleet.NewAutoscaler(registry, cfg.Autoscale, cfg.Fleet)
	scaler.SetBroadcaster(broadcasters)
	scaler.SetMetrics(metrics)
	scaler.Run()

	// --- HTTP ---

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(5*time.Minute, 10*time.Minute)
	defer stopCleanup()

	handlers := &afhttp.Handlers{
		Registry:   registry,
		Autoscaler: scaler,
		MCP:        pool,
		Hub:        hub,
		Metrics:    metrics,
		Version:    version,
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(afhttp.SecurityHeaders)
	r.Use(afhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(afhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(limiter.Handler)
	r.Use(middleware.APIKey(cfg.Auth.APIKeyHash, cfg.Auth.Enabled))
	if cfg.Otel.Enabled {
		r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	}

	afhttp.MountRoutes(r, handlers)

	if cfg.MCP.ControlServerEnabled {
		ctl := afmcp.NewServer(
			afmcp.ServerConfig{Name: "agentfleet", Version: version},
			afmcp.ServerDeps{Fleet: registry, Scaler: scaler},
		)
		r.Mount("/mcp", ctl.Handler())
		slog.Info("mcp control server mounted", "path", "/mcp")
	}

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Message exchanges block for up to the fleet message timeout.
		WriteTimeout: cfg.Fleet.MessageTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	// Stop accepting work, then drain the fleet, then the tool servers.
	scaler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}

	if err := registry.ShutdownAll(shutdownCtx); err != nil {
		slog.Warn("fleet shutdown incomplete", "error", err)
	}

	if pool != nil {
		pool.Stop()
		if err := pool.ShutdownAll(shutdownCtx); err != nil {
			slog.Warn("mcp shutdown incomplete", "error", err)
		}
	}

	slog.Info("shutdown complete")
	return nil
}
