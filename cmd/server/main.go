package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/socrunbook/engine/internal/adapter"
	"github.com/socrunbook/engine/internal/adapterhealth"
	"github.com/socrunbook/engine/internal/adapters"
	"github.com/socrunbook/engine/internal/approval"
	"github.com/socrunbook/engine/internal/audit"
	"github.com/socrunbook/engine/internal/config"
	"github.com/socrunbook/engine/internal/eventbus"
	"github.com/socrunbook/engine/internal/executor"
	"github.com/socrunbook/engine/internal/handlers"
	"github.com/socrunbook/engine/internal/httpapi"
	"github.com/socrunbook/engine/internal/logger"
	"github.com/socrunbook/engine/internal/metrics"
	"github.com/socrunbook/engine/internal/queueexec"
	"github.com/socrunbook/engine/internal/runbook"
	"github.com/socrunbook/engine/internal/scheduler"
	"github.com/socrunbook/engine/internal/simulation"
	"github.com/socrunbook/engine/internal/storage"
	"github.com/socrunbook/engine/internal/telemetry"
	"github.com/socrunbook/engine/internal/validation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("load config: " + err.Error())
	}

	log := logger.NewLogger()
	defer log.Sync()
	log.Infow("starting runbook engine", "environment", cfg.Environment, "port", cfg.Port)

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		log.Fatalw("open storage", "error", err)
	}
	defer store.Close()

	registry := adapter.NewRegistry()
	registerAdapters(registry, log)
	resolver := registry.CreateResolver()

	validator, err := validation.New(resolver)
	if err != nil {
		log.Fatalw("compile runbook schema", "error", err)
	}

	runbooks := runbook.NewStore()
	if dir := os.Getenv("RUNBOOK_DIR"); dir != "" {
		ctx := context.Background()
		if err := runbooks.LoadDir(ctx, dir, validator); err != nil {
			log.Fatalw("load runbooks", "dir", dir, "error", err)
		}
		log.Infow("loaded runbooks", "count", len(runbooks.List()), "dir", dir)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Warnw("redis unavailable, event fan-out will be local-only", "error", err)
	}
	bus := eventbus.NewBus(redisClient, log.SugaredLogger)
	go bus.Subscribe(context.Background())

	metricsRegistry := metrics.NewMetrics()

	instanceID, err := os.Hostname()
	if err != nil || instanceID == "" {
		instanceID = uuid.New().String()
	}
	healthRegistry := adapterhealth.NewRegistry(redisClient, instanceID)
	healthCtx, stopHealth := context.WithCancel(context.Background())
	defer stopHealth()
	go healthRegistry.Start(healthCtx, 30*time.Second, func(ctx context.Context) map[string]error {
		results := registry.HealthCheckAll(ctx)
		for name, checkErr := range results {
			metricsRegistry.UpdateAdapterHealth(name, checkErr == nil)
		}
		return results
	})
	defer healthRegistry.Stop()

	auditLogger := audit.NewLogger(store)
	approvals := approval.NewQueue(store, log.SugaredLogger)
	if err := approvals.StartSweep(context.Background(), cfg.ApprovalSweepCron); err != nil {
		log.Fatalw("start approval sweep", "error", err)
	}

	exec := executor.New(resolver)
	sim := simulation.New(resolver)

	sched := scheduler.New(exec, sim, auditLogger, approvals, store, bus, log.SugaredLogger)
	if cfg.TracingEnabled {
		tp, err := telemetry.NewProvider(cfg.ServiceName)
		if err != nil {
			log.Fatalw("start tracing", "error", err)
		}
		defer tp.Shutdown(context.Background())
		sched.WithTracer(telemetry.SchedulerTracer{Provider: tp})
	}

	queueExec := queueexec.New(exec, auditLogger, store, runbooks, sched)

	gin.SetMode(ginModeFor(cfg.Environment))
	router := gin.New()
	router.Use(gin.Recovery(), metrics.GinMiddleware(metricsRegistry))

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/runbooks", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"runbooks": runbooks.List()})
	})
	router.GET("/adapters", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"adapters": registry.List()})
	})
	adapterhealth.NewHandler(healthRegistry).RegisterRoutes(router)

	api := httpapi.NewHandler(sched, approvals, queueExec, runbooks, log.SugaredLogger)
	api.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()
	log.Infow("runbook engine listening", "addr", srv.Addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	registry.ShutdownAll(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}
	log.Info("server exited")
}

// registerAdapters binds the engine's built-in HTTP-client adapters,
// one per external integration family, pointed at environment-supplied
// base URLs. A missing env var falls back to a local stub address so
// the registry is never empty at startup.
func registerAdapters(registry *adapter.Registry, log *logger.Logger) {
	bind := func(name string, build func(string) adapter.Adapter, envVar, fallback string) {
		baseURL := os.Getenv(envVar)
		if baseURL == "" {
			baseURL = fallback
		}
		if err := registry.Register(build(baseURL)); err != nil {
			log.Warnw("adapter registration failed", "adapter", name, "error", err)
		}
	}

	bind("siem", adapters.NewSIEM, "SIEM_BASE_URL", "http://localhost:9001/siem")
	bind("threat-intel", adapters.NewThreatIntel, "THREAT_INTEL_BASE_URL", "http://localhost:9002/ti")
	bind("edr", adapters.NewEDR, "EDR_BASE_URL", "http://localhost:9003/edr")
	bind("firewall", adapters.NewFirewall, "FIREWALL_BASE_URL", "http://localhost:9004/firewall")
	bind("iam", adapters.NewIAM, "IAM_BASE_URL", "http://localhost:9005/iam")
	bind("ticketing", adapters.NewTicketing, "TICKETING_BASE_URL", "http://localhost:9006/ticketing")
	bind("notify", adapters.NewNotify, "NOTIFY_BASE_URL", "http://localhost:9007/notify")
	bind("system-ops", adapters.NewSystemOps, "SYSTEM_OPS_BASE_URL", "http://localhost:9008/system")
	bind("generic", adapters.NewGeneric, "GENERIC_BASE_URL", "http://localhost:9009/generic")
}

func ginModeFor(environment string) string {
	if environment == "production" {
		return gin.ReleaseMode
	}
	return gin.DebugMode
}
