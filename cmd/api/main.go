package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/lewashby/tokenflow/internal/api"
	"github.com/lewashby/tokenflow/internal/cache"
	"github.com/lewashby/tokenflow/internal/classifier"
	"github.com/lewashby/tokenflow/internal/config"
	"github.com/lewashby/tokenflow/internal/database"
	"github.com/lewashby/tokenflow/internal/domain"
	"github.com/lewashby/tokenflow/internal/entities"
	"github.com/lewashby/tokenflow/internal/flowgraph"
	"github.com/lewashby/tokenflow/internal/intent"
	"github.com/lewashby/tokenflow/internal/metrics"
	"github.com/lewashby/tokenflow/internal/middleware"
	"github.com/lewashby/tokenflow/internal/risk"
	"github.com/lewashby/tokenflow/internal/tenant"
	"github.com/lewashby/tokenflow/internal/upstream"
	"github.com/lewashby/tokenflow/internal/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, relying on process environment")
	}

	cfg := config.Get()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := database.New(cfg.GetSupabaseURL(), cfg.GetSupabaseKey())
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	kv := newCache(cfg)
	met := metrics.New()

	upstreamAdapter := upstream.NewWithMetrics(upstream.Config{
		BaseURL:             cfg.Upstream.BaseURL,
		APIKey:              cfg.Upstream.APIKey,
		HealthTimeout:       time.Duration(cfg.Upstream.HealthTimeoutSec) * time.Second,
		TxTimeout:           time.Duration(cfg.Upstream.TxTimeoutSec) * time.Second,
		HistoryTimeout:      time.Duration(cfg.Upstream.HistoryTimeoutSec) * time.Second,
		RetryMaxAttempts:    cfg.Upstream.RetryMaxAttempts,
		RetryBaseDelay:      time.Duration(cfg.Upstream.RetryBaseDelayMs) * time.Millisecond,
		BreakerThreshold:    cfg.Upstream.BreakerThreshold,
		BreakerOpenFor:      time.Duration(cfg.Upstream.BreakerOpenSec) * time.Second,
		BreakerHalfOpenReqs: cfg.Upstream.BreakerHalfOpenReqs,
	}, kv, met)

	entityRegistry, err := entities.New(db)
	if err != nil {
		log.Fatalf("entities: %v", err)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := entityRegistry.Reload(bootCtx); err != nil {
		slog.Warn("entities: reload from store failed, continuing with empty registry", "error", err)
	}
	if err := entityRegistry.SeedKnownPrograms(bootCtx, entities.KnownPrograms); err != nil {
		slog.Warn("entities: seed known programs failed", "error", err)
	}
	bootCancel()
	for _, e := range entities.KnownPrograms {
		if e.EntityKind == domain.EntityDEX {
			classifier.RegisterDEXProgram(e.Address, e.Name)
		}
	}

	flowEngine := flowgraph.NewWithMetrics(upstreamAdapter, entityRegistry, db, met)

	riskEngine := risk.NewWithMetrics(upstreamAdapter, entityRegistry, flowEngine, db, kv,
		time.Duration(cfg.Risk.AssessmentCacheTTLSec)*time.Second, met)

	intentClient, err := intent.New(cfg.Intent.GRPCAddr, entityRegistry, kv,
		time.Duration(cfg.Intent.CacheTTLSec)*time.Second,
		time.Duration(cfg.Intent.TimeoutSec)*time.Second)
	if err != nil {
		log.Fatalf("intent: %v", err)
	}
	defer intentClient.Close()

	gate, err := tenant.New(db, cfg.Tenant.APIKeySalt, cfg.Tenant.AdminAPIKey,
		time.Duration(cfg.Tenant.AuthFailureFloorMs)*time.Millisecond)
	if err != nil {
		log.Fatalf("tenant: %v", err)
	}

	webhookHandler := webhook.New(db, gate, cfg.Tenant.WebhookSecret)

	rateLimiter := middleware.NewRateLimiter(kv, cfg.Tenant.RateLimitLRUSize,
		time.Duration(cfg.Tenant.RateLimitLRUTTLSec)*time.Second)

	handler := api.NewHandler(flowEngine, riskEngine, intentClient, upstreamAdapter, gate, webhookHandler)

	// Every reachable /api/v1 route requires a tenant API key, whose own
	// plan limit (domain.PlanCatalog) takes over once authenticated.
	// Admin-bypass requests skip rate limiting altogether; this default
	// applies only to a request with no auth context or with a plan limit
	// of zero or less.
	defaultRateLimit := domain.PlanCatalog[domain.PlanStarter].RateLimitPerMinute

	server := api.NewServer(api.Config{
		Port:            cfg.GetPort(),
		IsProduction:    cfg.IsProduction(),
		ReadTimeout:     time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout:    time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:     time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
		RequestDeadline: time.Duration(cfg.Server.RequestDeadlineS) * time.Second,
		CORSOrigins:     cfg.Server.CORSAllowOrigins,
	}, handler, gate, rateLimiter, defaultRateLimit, met)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server: %v", err)
		}
	}()
	slog.Info("tokenflow api started", "port", cfg.GetPort(), "env", cfg.Server.Env)

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
}

func newCache(cfg *config.Config) cache.Cache {
	if cfg.Cache.Host == "" {
		slog.Info("no KV host configured, using no-op cache")
		return cache.NewNoOp()
	}
	rc, err := cache.NewRedisCache(cfg.Cache.Host, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		slog.Warn("redis cache unavailable, falling back to no-op cache", "error", err)
		return cache.NewNoOp()
	}
	return rc
}
