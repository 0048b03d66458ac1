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

	archivemem "github.com/fkorte/agentpod/internal/adapter/archive/memory"
	"github.com/fkorte/agentpod/internal/adapter/dispatch/inproc"
	apnats "github.com/fkorte/agentpod/internal/adapter/dispatch/nats"
	aphttp "github.com/fkorte/agentpod/internal/adapter/http"
	"github.com/fkorte/agentpod/internal/adapter/mcptool"
	apotel "github.com/fkorte/agentpod/internal/adapter/otel"
	"github.com/fkorte/agentpod/internal/adapter/postgres"
	"github.com/fkorte/agentpod/internal/adapter/ristretto"
	"github.com/fkorte/agentpod/internal/adapter/ws"
	"github.com/fkorte/agentpod/internal/config"
	"github.com/fkorte/agentpod/internal/coordination"
	"github.com/fkorte/agentpod/internal/domain/handoff"
	"github.com/fkorte/agentpod/internal/lifecycle"
	"github.com/fkorte/agentpod/internal/logger"
	"github.com/fkorte/agentpod/internal/monitor"
	"github.com/fkorte/agentpod/internal/port/alert"
	"github.com/fkorte/agentpod/internal/port/archive"
	"github.com/fkorte/agentpod/internal/port/dispatch"
	"github.com/fkorte/agentpod/internal/resilience"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}

	cfg, configPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", configPath,
		"port", cfg.Server.Port,
		"archive_driver", cfg.Archive.Driver,
		"dispatch_driver", cfg.Dispatch.Driver,
		"log_level", cfg.Logging.Level,
	)

	ctx := context.Background()

	// --- Telemetry ---

	shutdownMetrics, err := apotel.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()

	metrics, err := apotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	var store archive.Store
	switch cfg.Archive.Driver {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		slog.Info("postgres archive ready")
		store = postgres.NewStore(pool)
	default:
		store = archivemem.New()
	}

	var (
		dispatcher       dispatch.Dispatcher
		broker           *apnats.Broker
		inprocDispatcher *inproc.Dispatcher
	)
	switch cfg.Dispatch.Driver {
	case "inproc":
		// Single-binary deployment: receivers live in this process, no
		// broker involved. The ack sink is bound once the engine exists.
		inprocDispatcher = inproc.New(nil)
		dispatcher = inprocDispatcher
		slog.Info("in-process dispatch ready")
	default:
		breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
		broker, err = apnats.Connect(ctx, cfg.NATS.URL, breaker, log)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = broker.Close() }()
		apnats.RegisterNotifier(broker)
		dispatcher = broker
	}

	cacheStore, err := ristretto.New(cfg.Cache.MaxCostMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cacheStore.Close()

	// --- Tools ---

	for i := range cfg.MCP.Servers {
		s := cfg.MCP.Servers[i]
		session, err := mcptool.Connect(ctx, &mcptool.ServerDef{
			Name:      s.Name,
			Transport: mcptool.Transport(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			URL:       s.URL,
			Headers:   s.Headers,
		})
		if err != nil {
			return fmt.Errorf("mcp server %q: %w", s.Name, err)
		}
		defer func() { _ = session.Close() }()

		names, err := session.RegisterTools(ctx)
		if err != nil {
			return fmt.Errorf("mcp server %q tools: %w", s.Name, err)
		}
		slog.Info("mcp tools registered", "server", s.Name, "tools", len(names))
	}

	// --- Services ---

	hub := ws.NewHub(log)
	units := lifecycle.NewRegistry()

	strategies := handoff.NewStrategyRegistry()
	coordination.RegisterLifecycleTriggers(strategies, units)

	engine := coordination.NewEngine(dispatcher, store, strategies, hub,
		coordination.WithLogger(log),
		coordination.WithObserver(metrics),
		coordination.WithProtocolDefaults(coordination.ProtocolDefaults{
			AckTimeout: cfg.Coordinator.AckTimeout,
			MaxRetries: cfg.Coordinator.MaxRetries,
			RetryDelay: cfg.Coordinator.RetryDelay,
			Backoff:    handoff.BackoffKind(cfg.Coordinator.Backoff),
		}),
	)

	notifiers := []alert.Notifier{apotel.NewAlertNotifier(metrics)}
	if inprocDispatcher != nil {
		inprocDispatcher.BindSink(engine)
	}
	if broker != nil {
		stopAcks, err := broker.StartAckSubscriber(ctx, engine)
		if err != nil {
			return fmt.Errorf("ack subscriber: %w", err)
		}
		defer stopAcks()

		natsNotifier, err := alert.New("nats", nil)
		if err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
		notifiers = append(notifiers, natsNotifier)
	}

	mon := monitor.New(units,
		notifiers,
		cacheStore,
		monitor.Config{
			Interval:      cfg.Monitor.Interval,
			SlowExecution: cfg.Monitor.SlowExecution,
			MaxErrorCount: cfg.Monitor.MaxErrorCount,
		},
		log,
		monitor.WithBroadcaster(hub),
	)
	mon.Start(ctx)
	defer mon.Stop()

	// --- HTTP ---

	handlers := &aphttp.Handlers{
		Units:   units,
		Health:  mon,
		History: engine,
	}

	r := chi.NewRouter()

	r.Use(aphttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	r.Get("/health", healthHandler(cfg))
	r.Get("/ws", hub.HandleWS)

	aphttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports process liveness and configured backends.
func healthHandler(cfg *config.Config) http.HandlerFunc {
	type healthStatus struct {
		Status   string `json:"status"`
		Archive  string `json:"archive"`
		Dispatch string `json:"dispatch"`
		NATS     string `json:"nats,omitempty"`
	}

	return func(w http.ResponseWriter, _ *http.Request) {
		status := healthStatus{
			Status:   "ok",
			Archive:  cfg.Archive.Driver,
			Dispatch: cfg.Dispatch.Driver,
		}
		if cfg.Dispatch.Driver != "inproc" {
			status.NATS = cfg.NATS.URL
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
