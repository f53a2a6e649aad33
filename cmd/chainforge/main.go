package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/ChainForge/internal/adapter/docker"
	cfhttp "github.com/Strob0t/ChainForge/internal/adapter/http"
	"github.com/Strob0t/ChainForge/internal/adapter/litellm"
	"github.com/Strob0t/ChainForge/internal/adapter/localfs"
	cfnats "github.com/Strob0t/ChainForge/internal/adapter/nats"
	cfotel "github.com/Strob0t/ChainForge/internal/adapter/otel"
	"github.com/Strob0t/ChainForge/internal/adapter/postgres"
	"github.com/Strob0t/ChainForge/internal/adapter/ristretto"
	"github.com/Strob0t/ChainForge/internal/adapter/ws"
	"github.com/Strob0t/ChainForge/internal/config"
	"github.com/Strob0t/ChainForge/internal/logger"
	"github.com/Strob0t/ChainForge/internal/middleware"
	"github.com/Strob0t/ChainForge/internal/resilience"
	"github.com/Strob0t/ChainForge/internal/service"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "admin: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags, err := config.ParseFlags(args)
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logCloser.Close()

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---
	otelShutdown, err := cfotel.Setup(ctx, cfg.Logging.Service, cfg.Otel.Endpoint)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(shCtx)
	}()

	metrics, err := cfotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := cfnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	objects, err := localfs.New(cfg.Artifact.Dir)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	// --- Completion provider ---
	provider := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
	provider.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	settingsSvc := service.NewSettingsService(store, cache, cfg.Cache.TTL)
	artifactSvc := service.NewArtifactService(store, objects, queue, hub)
	sandboxSvc := service.NewSandboxService(store, docker.New(), queue, hub, cfg.Sandbox)

	registry := service.NewToolRegistry()
	service.RegisterCoreTools(registry, artifactSvc, sandboxSvc, nil)

	mcpCleanup, err := mountMCPServers(ctx, registry, cfg.MCP)
	if err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	defer mcpCleanup()

	delegationSvc := service.NewDelegationService(store)
	loopSvc := service.NewLoopService(store, provider, registry, delegationSvc, queue, hub, cfg.Engine)
	loopSvc.SetMetrics(metrics)

	schedulerSvc := service.NewSchedulerService(store, settingsSvc, loopSvc, queue, hub)
	schedulerSvc.SetMetrics(metrics)

	cancelTriggers, err := schedulerSvc.SubscribeTriggers(ctx)
	if err != nil {
		return fmt.Errorf("trigger subscriber: %w", err)
	}
	defer cancelTriggers()

	reaperCtx, stopReaper := context.WithCancel(ctx)
	defer stopReaper()
	go sandboxSvc.RunReaper(reaperCtx, cfg.Sandbox.ReapInterval, func(ctx context.Context) time.Duration {
		return settingsSvc.Snapshot(ctx).SandboxIdleThreshold
	})

	// --- HTTP ---
	handlers := &cfhttp.Handlers{
		Chains:    service.NewChainService(store),
		Agents:    service.NewAgentService(store),
		Sessions:  schedulerSvc,
		Artifacts: artifactSvc,
		Settings:  settingsSvc,
		Sandboxes: sandboxSvc,
	}

	r := chi.NewRouter()
	r.Use(cfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cfhttp.SecurityHeaders)
	r.Use(cfhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cfotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", healthHandler(pool, queue))
	r.Get("/ws", hub.HandleWS)
	cfhttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if err := schedulerSvc.Shutdown(shutdownCtx); err != nil {
		slog.Error("scheduler shutdown", "error", err)
	}
	if err := queue.Drain(); err != nil {
		slog.Error("nats drain", "error", err)
	}
	return nil
}

// healthHandler reports liveness of the backing services.
func healthHandler(pool *pgxpool.Pool, queue *cfnats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Postgres string `json:"postgres"`
		NATS     string `json:"nats"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}
		code := http.StatusOK

		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			status.Status = "degraded"
			status.Postgres = "down"
			code = http.StatusServiceUnavailable
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "down"
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
