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

	"github.com/resflow/toolplane/internal/adapter/calendarapi"
	tphttp "github.com/resflow/toolplane/internal/adapter/http"
	tpnats "github.com/resflow/toolplane/internal/adapter/nats"
	"github.com/resflow/toolplane/internal/adapter/natskv"
	"github.com/resflow/toolplane/internal/adapter/otel"
	"github.com/resflow/toolplane/internal/adapter/postgres"
	"github.com/resflow/toolplane/internal/adapter/ristretto"
	"github.com/resflow/toolplane/internal/adapter/tiered"
	"github.com/resflow/toolplane/internal/auth"
	"github.com/resflow/toolplane/internal/config"
	"github.com/resflow/toolplane/internal/logger"
	"github.com/resflow/toolplane/internal/middleware"
	"github.com/resflow/toolplane/internal/ratelimit"
	"github.com/resflow/toolplane/internal/registry"
	"github.com/resflow/toolplane/internal/resilience"
	"github.com/resflow/toolplane/internal/service"
	"github.com/resflow/toolplane/internal/tools"
)

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
		"configured_keys", len(cfg.Auth.Keys),
	)

	ctx := context.Background()

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	log.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	log.Info("migrations applied")

	sink, err := tpnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = sink.Close() }()
	log.Info("nats connected")

	kv, err := sink.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return fmt.Errorf("nats kv: %w", err)
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("ristretto: %w", err)
	}
	defer l1.Close()
	responseCache := tiered.New(l1, natskv.New(kv), cfg.Cache.L1TTL)

	// --- Telemetry ---

	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()

	var metrics *otel.Metrics
	if cfg.Telemetry.Endpoint != "" {
		metrics, err = otel.NewMetrics()
		if err != nil {
			return fmt.Errorf("otel metrics: %w", err)
		}
	}

	// --- Auth and rate limiting ---

	resolver := auth.NewResolver(cfg.Auth.Keys)
	limiter := ratelimit.New(cfg.Rate.Window, cfg.Rate.DefaultLimit, cfg.Rate.ElevatedLimit)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	// --- Tool catalog ---

	reg := registry.New()
	if err := tools.RegisterAll(reg, tools.Deps{NATSConnected: sink.IsConnected}); err != nil {
		return fmt.Errorf("tool registry: %w", err)
	}
	log.Info("tool catalog registered", "tools", len(reg.Names()))

	// --- External collaborators ---

	cal := calendarapi.NewClient(cfg.Calendar.URL, cfg.Calendar.Token)
	cal.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))

	// --- Services ---

	store := postgres.NewStore(pool)
	exec := service.NewExecutor(reg, store, responseCache, sink, cal, metrics, log, service.ExecutorConfig{
		LockTTL:     cfg.Lock.TTL,
		Retention:   cfg.Idempotency.Retention,
		ApprovalTTL: cfg.Approval.TTL,
		Dependencies: map[string]bool{
			"postgres":      true,
			"event-stream":  true,
			"calendar-sync": cfg.Calendar.URL != "",
		},
		Secrets: map[string]bool{
			"CALENDAR_TOKEN": cfg.Calendar.Token != "",
		},
	})
	approvals := service.NewApprovalService(store, reg, exec, sink, log, cfg.Approval.TTL)
	auditSvc := service.NewAuditService(store)

	stopPurge := exec.StartIdempotencyPurge(time.Hour)
	defer stopPurge()
	stopSweeper := approvals.StartSweeper(cfg.Approval.SweepInterval)
	defer stopSweeper()

	// --- HTTP ---

	server := tphttp.NewServer(exec, approvals, auditSvc, reg, store.Ping, log)

	r := chi.NewRouter()
	r.Use(tphttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tphttp.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(tphttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(middleware.Auth(resolver))
	r.Use(middleware.RateLimit(limiter))

	tphttp.MountRoutes(r, server)

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
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
		}
	}()

	<-done
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
