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

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/cordonlabs/sentra/internal/adapter/agenthttp"
	"github.com/cordonlabs/sentra/internal/adapter/chromem"
	"github.com/cordonlabs/sentra/internal/adapter/file"
	sentrahttp "github.com/cordonlabs/sentra/internal/adapter/http"
	"github.com/cordonlabs/sentra/internal/adapter/litellm"
	sentranats "github.com/cordonlabs/sentra/internal/adapter/nats"
	"github.com/cordonlabs/sentra/internal/adapter/natskv"
	"github.com/cordonlabs/sentra/internal/adapter/otel"
	"github.com/cordonlabs/sentra/internal/adapter/postgres"
	"github.com/cordonlabs/sentra/internal/adapter/ristretto"
	"github.com/cordonlabs/sentra/internal/adapter/sandbox"
	"github.com/cordonlabs/sentra/internal/adapter/tiered"
	"github.com/cordonlabs/sentra/internal/adapter/ws"
	"github.com/cordonlabs/sentra/internal/config"
	"github.com/cordonlabs/sentra/internal/logger"
	"github.com/cordonlabs/sentra/internal/port/cache"
	"github.com/cordonlabs/sentra/internal/port/control"
	"github.com/cordonlabs/sentra/internal/port/discovery"
	"github.com/cordonlabs/sentra/internal/port/memory"
	"github.com/cordonlabs/sentra/internal/port/messagequeue"
	"github.com/cordonlabs/sentra/internal/port/policysource"
	"github.com/cordonlabs/sentra/internal/port/ticketstore"
	"github.com/cordonlabs/sentra/internal/port/worker"
	"github.com/cordonlabs/sentra/internal/resilience"
	"github.com/cordonlabs/sentra/internal/service"
)

const cacheMaxBytes = 64 << 20

func main() {
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
	defer logCloser.Close()
	slog.SetDefault(log)

	log.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"ticket_backend", cfg.Tickets.Backend,
		"sandbox_worker", cfg.Worker.UseSandbox,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	if cfg.Tracing.Enabled {
		shutdownTracer, err := otel.InitTracer(ctx, cfg.Logging.Service, cfg.Tracing.Endpoint)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracer(sctx); err != nil {
				log.Warn("tracer shutdown failed", "error", err)
			}
		}()
		log.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	// --- Infrastructure ---

	// NATS is optional: the control plane runs standalone, events are then
	// only available over the WebSocket hub.
	var queue messagequeue.Queue
	if cfg.NATS.URL != "" {
		q, err := sentranats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			log.Warn("nats unavailable, continuing without queue", "url", cfg.NATS.URL, "error", err)
		} else {
			queue = q
			defer func() { _ = q.Drain() }()
			log.Info("nats connected", "url", cfg.NATS.URL)
		}
	}

	local, err := ristretto.New(cacheMaxBytes)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer local.Close()

	// With NATS present the policy cache gains a shared L2, so all
	// instances see a policy refresh at the same time.
	var guardCache cache.Cache = local
	if q, ok := queue.(*sentranats.Queue); ok {
		kv, err := q.KeyValue(ctx, "sentra-cache", cfg.Guardian.PolicyCacheTTL)
		if err != nil {
			log.Warn("shared cache unavailable, using local only", "error", err)
		} else {
			guardCache = tiered.New(local, natskv.New(kv), time.Minute)
		}
	}

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)

	// --- Persistence ---

	var (
		changes ticketstore.ChangeStore
		audit   ticketstore.AuditStore
	)
	switch cfg.Tickets.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pool.Close()
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		store := postgres.NewStore(pool)
		changes = store
		audit = store
		log.Info("postgres connected")
	default:
		changes = file.NewChangeStore(cfg.Tickets.FilePath)
		log.Info("file change store", "path", cfg.Tickets.FilePath)
	}

	var long memory.LongTerm
	if cfg.Memory.ChromemPath != "" {
		vs, err := chromem.New(cfg.Memory.ChromemPath, nil)
		if err != nil {
			return fmt.Errorf("vector store: %w", err)
		}
		long = vs
		log.Info("long-term memory enabled", "path", cfg.Memory.ChromemPath)
	}

	// --- Services ---

	hub := ws.NewHub()
	telemetrySvc := service.NewTelemetryService(cfg.Telemetry, hub, queue, log)
	controlSvc := service.NewControlService(telemetrySvc, queue, log)
	directorySvc := service.NewDirectoryService(cfg.Directory, log)
	memorySvc := service.NewMemoryService(cfg.Memory, long, log)
	ticketSvc := service.NewTicketService(changes, telemetrySvc, log)

	var policies policysource.Source
	if cfg.Guardian.PolicyURL != "" {
		policies = agenthttp.NewPolicySource(cfg.Guardian.PolicyURL, cfg.Server.SharedSecret, 10*time.Second)
	}
	guardianSvc := service.NewGuardianService(cfg.Guardian, log, policies, guardCache, memorySvc, audit, queue)
	guardianSvc.SetRecaller(memorySvc)

	planner := litellm.NewClient(cfg.LiteLLM)
	planner.SetBreaker(breaker)

	var stepWorker worker.Worker
	if cfg.Worker.UseSandbox {
		stepWorker = sandbox.New()
	} else {
		wc := agenthttp.NewClient(cfg.Worker.URL, cfg.Server.SharedSecret, cfg.Worker.Timeout)
		wc.SetBreaker(breaker)
		stepWorker = agenthttp.NewWorkerClient(wc)
	}

	// A standalone instance checks its own kill switch and serves its own
	// registry; in a fleet both live on the central control plane.
	var halt control.HaltChecker = controlSvc
	if cfg.Upstream.ControlURL != "" {
		halt = agenthttp.NewControlClient(agenthttp.NewClient(cfg.Upstream.ControlURL, cfg.Server.SharedSecret, 5*time.Second))
		log.Info("using upstream control plane", "url", cfg.Upstream.ControlURL)
	}
	var registry discovery.Registry = directorySvc
	if cfg.Upstream.DirectoryURL != "" {
		dc := agenthttp.NewClient(cfg.Upstream.DirectoryURL, cfg.Server.SharedSecret, 10*time.Second)
		registry = agenthttp.NewDirectoryClient(dc, local, 10*time.Second)
		log.Info("using upstream directory", "url", cfg.Upstream.DirectoryURL)
	}

	orchestratorSvc := service.NewOrchestratorService(
		cfg.Worker, log, planner, stepWorker, guardianSvc, halt, hub, queue)
	orchestratorSvc.SetMemory(memorySvc)

	registrar := service.NewRegistrar(cfg.Directory, "task_orchestrator", registry, log)

	// Idempotency-Key replay cache, backed by JetStream KV when available.
	var idemKV jetstream.KeyValue
	if q, ok := queue.(*sentranats.Queue); ok {
		kv, err := q.KeyValue(ctx, "sentra-idempotency", 24*time.Hour)
		if err != nil {
			log.Warn("idempotency kv unavailable", "error", err)
		} else {
			idemKV = kv
		}
	}

	// --- HTTP ---

	handlers := &sentrahttp.Handlers{
		Guardian:     guardianSvc,
		Orchestrator: orchestratorSvc,
		Directory:    directorySvc,
		Telemetry:    telemetrySvc,
		Control:      controlSvc,
		Memory:       memorySvc,
		Tickets:      ticketSvc,
		Hub:          hub,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           sentrahttp.NewRouter(handlers, *cfg, idemKV),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		directorySvc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		memorySvc.Run(gctx)
		return nil
	})
	g.Go(func() error {
		registrar.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		// Let in-flight tasks settle before the process exits.
		orchestratorSvc.Wait()
		return nil
	})

	return g.Wait()
}
