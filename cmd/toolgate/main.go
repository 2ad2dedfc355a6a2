package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/toolgate/internal/adapter/builtin"
	tghttp "github.com/Strob0t/toolgate/internal/adapter/http"
	"github.com/Strob0t/toolgate/internal/adapter/mcp"
	tgnats "github.com/Strob0t/toolgate/internal/adapter/nats"
	"github.com/Strob0t/toolgate/internal/adapter/natskv"
	tgotel "github.com/Strob0t/toolgate/internal/adapter/otel"
	"github.com/Strob0t/toolgate/internal/adapter/postgres"
	"github.com/Strob0t/toolgate/internal/adapter/ristretto"
	"github.com/Strob0t/toolgate/internal/adapter/tiered"
	"github.com/Strob0t/toolgate/internal/adapter/ws"
	"github.com/Strob0t/toolgate/internal/config"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/logger"
	"github.com/Strob0t/toolgate/internal/middleware"
	"github.com/Strob0t/toolgate/internal/port/broadcast"
	"github.com/Strob0t/toolgate/internal/port/cache"
	"github.com/Strob0t/toolgate/internal/port/messagequeue"
	"github.com/Strob0t/toolgate/internal/port/notifier"
	"github.com/Strob0t/toolgate/internal/port/plugin"
	"github.com/Strob0t/toolgate/internal/ratelimit"
	"github.com/Strob0t/toolgate/internal/resilience"
	"github.com/Strob0t/toolgate/internal/secrets"
	"github.com/Strob0t/toolgate/internal/service"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
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

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"nats", cfg.NATS.URL != "",
		"mcp", cfg.MCP.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	shutdownOTEL, err := tgotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := tgotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	applied, err := postgres.RunMigrations(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied", "count", applied)

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()

	// NATS is optional: without it there is no shared cache tier, no
	// outcome subject, no nats.publish capability and no bus ingestion.
	var (
		queue      messagequeue.Queue
		broker     tghttp.Connectivity
		toolsCache cache.Cache = l1
	)
	if cfg.NATS.URL != "" {
		nq, err := tgnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := nq.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue, broker = nq, nq

		kv, err := nq.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("nats kv: %w", err)
		}
		toolsCache = tiered.New(l1, natskv.New(kv), cfg.Cache.SnapshotTTL)
	}

	// --- Capabilities ---

	plugins := plugin.NewRegistry()
	if err := builtin.Register(plugins, builtin.Deps{
		Queue:          queue,
		HTTPClient:     &http.Client{},
		WebhookTimeout: cfg.Tools.WebhookTimeout,
	}); err != nil {
		return fmt.Errorf("builtin capabilities: %w", err)
	}

	// --- Services ---

	store := postgres.NewStore(pool)

	registry := service.NewToolRegistry(store, toolsCache, plugins, cfg.Cache.SnapshotTTL)
	if err := registry.Load(ctx); err != nil {
		return fmt.Errorf("load tools: %w", err)
	}
	defs, err := tool.LoadFromDirectory(cfg.Tools.Dir)
	if err != nil {
		return fmt.Errorf("read tool definitions: %w", err)
	}
	seeded, err := registry.Seed(ctx, defs)
	if err != nil {
		return fmt.Errorf("seed tools: %w", err)
	}
	slog.Info("tool registry ready", "tools", len(registry.List()), "seeded", seeded)

	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.MaxCalls)
	stopSweeper := limiter.StartSweeper(cfg.RateLimit.SweepInterval)
	defer stopSweeper()

	notifiers, err := notifier.Build(cfg.Notification.Providers)
	if err != nil {
		return fmt.Errorf("notifiers: %w", err)
	}
	notifySvc := service.NewNotificationService(notifiers, cfg.Notification.EnabledEvents)

	budget := service.NewBudgetGuard(store, metrics, cfg.Budget.MaxCommitRetries)
	budget.SetNotifier(notifySvc)
	stopReconciler := budget.StartReconciler(cfg.Budget.ReconcileInterval)
	defer stopReconciler()

	executor := service.NewToolExecutor(store, registry, plugins, limiter, budget, metrics, cfg.Engine.ToolTimeout)

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	defer hub.Close()

	breaker := resilience.NewBreaker("outcome-publish", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	outcomes := service.NewOutcomePublisher(hub, queue, breaker, notifySvc, metrics, service.DefaultOutcomeBuffer)
	outcomes.Start()
	defer outcomes.Close()

	engine := service.NewTriggerEngine(store, registry, executor, outcomes, metrics)
	events := service.NewEventQueue(store, engine, metrics, service.QueueOptions{
		PollInterval: cfg.Engine.PollInterval,
		RescanOnIdle: cfg.Engine.RescanOnIdle,
		ReplayBatch:  cfg.Engine.ReplayBatch,
		Lock:         postgres.NewAdvisoryLock(pool, postgres.EventConsumerLockKey),
	})
	if err := events.Start(ctx); err != nil {
		return fmt.Errorf("event queue: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()
		if err := events.Stop(sctx); err != nil {
			slog.Warn("event queue stop", "error", err)
		}
	}()

	if queue != nil && cfg.NATS.Ingest {
		cancelIngest, err := service.NewEventIngestor(queue, events).Start(ctx)
		if err != nil {
			return fmt.Errorf("event ingestor: %w", err)
		}
		defer cancelIngest()
	}

	var mcpSrv *mcp.Server
	if cfg.MCP.Enabled {
		mcpSrv = mcp.NewServer(
			mcp.ServerConfig{Name: cfg.MCP.Name, Version: cfg.MCP.Version},
			mcp.ServerDeps{Tools: registry, Executor: executor},
		)
	}
	registry.OnChange(func(name string, removed bool) {
		if mcpSrv != nil {
			mcpSrv.Sync()
		}
		hub.BroadcastEvent(context.Background(), broadcast.EventToolChanged, ws.ToolChangedEvent{Name: name, Removed: removed})
	})

	// --- HTTP ---

	vault, err := secrets.NewVault(secrets.ConfigLoader(config.Load))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	handlers := &tghttp.Handlers{
		Events:   events,
		Tools:    registry,
		Executor: executor,
		Credits:  budget,
		Records:  store,
		Broker:   broker,
		Version:  version,
	}

	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := rl.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(tghttp.SecurityHeaders)
	r.Use(tghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(middleware.Identity)
	r.Use(tghttp.Logger)
	r.Use(rl.Handler)
	r.Use(tgotel.HTTPMiddleware(cfg.OTEL.ServiceName))

	// WebSocket and MCP streams are long-lived and bypass the request timeout.
	r.Get("/ws", hub.HandleWS)
	if mcpSrv != nil {
		r.Handle(mcp.EndpointPath, mcpSrv.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(60 * time.Second))
		tghttp.MountRoutes(r, handlers, tghttp.RouteConfig{
			AdminKey:      vault.Getter(secrets.AdminKey),
			WebhookSecret: vault.Getter(secrets.WebhookSecret),
			Idempotency:   middleware.Idempotency(toolsCache, cfg.Server.IdempotencyTTL),
		})
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return reloadOnHangup(gctx, vault)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
		defer cancel()
		if mcpSrv != nil {
			if err := mcpSrv.Shutdown(sctx); err != nil {
				slog.Warn("mcp shutdown", "error", err)
			}
		}
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}

// reloadOnHangup re-reads the route secrets on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded")
		}
	}
}
