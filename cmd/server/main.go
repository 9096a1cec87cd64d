package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	supabase "github.com/supabase-community/supabase-go"

	"github.com/ocx/videogen/internal/api"
	"github.com/ocx/videogen/internal/config"
	"github.com/ocx/videogen/internal/events"
	"github.com/ocx/videogen/internal/fabric"
	"github.com/ocx/videogen/internal/ledger"
	"github.com/ocx/videogen/internal/media"
	"github.com/ocx/videogen/internal/metrics"
	"github.com/ocx/videogen/internal/objectstore"
	"github.com/ocx/videogen/internal/pipeline"
	"github.com/ocx/videogen/internal/queue"
	"github.com/ocx/videogen/internal/ratelimit"
	"github.com/ocx/videogen/internal/security"
	"github.com/ocx/videogen/internal/store"
	"github.com/ocx/videogen/internal/streaming"
	"github.com/ocx/videogen/internal/worker"
)

func main() {
	cfg := config.Get()

	st, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize store gateway: %v", err)
	}
	objects, err := buildObjectStore(cfg)
	if err != nil {
		log.Fatalf("failed to initialize object store: %v", err)
	}
	gw, err := buildFabric(cfg)
	if err != nil {
		log.Fatalf("failed to initialize fabric gateway: %v", err)
	}

	// The Cost Ledger tracks budgets in integer millidollars; the config
	// layer exposes them in USD for human-friendly YAML/env values.
	budgetLimits := ledger.BudgetLimitFunc(func(env string) int64 {
		return int64(cfg.BudgetLimitUSD() * 1000)
	})
	lg := ledger.New(st, cfg.Budget.ShardCount, budgetLimits)

	q := queue.New(gw, cfg.Queue.QueueKey, time.Duration(cfg.Queue.PayloadTTLSec)*time.Second)
	bus := events.NewDurableBus(gw)
	hub := streaming.NewHub(
		cfg.Streaming.MaxConnectionsPerJob,
		time.Duration(cfg.Streaming.HeartbeatSec)*time.Second,
		time.Duration(cfg.Streaming.StaleTimeoutSec)*time.Second,
	)
	validator := security.NewValidator(cfg.Security.HMACSecret, gw, time.Duration(cfg.Security.CacheTTLSec)*time.Second)
	limiter := ratelimit.NewLimiter(gw, ratelimit.Config{
		Window:     time.Duration(cfg.RateLimit.WindowSec) * time.Second,
		MaxAdmits:  cfg.RateLimit.MaxRequests,
		FailPolicy: ratelimit.FailPolicy(cfg.RateLimit.FailPolicy),
	})

	m := metrics.New()
	stages := buildStages(cfg)
	orchestrator := pipeline.New(st, gw, lg, bus, stages, m, cfg.Server.Env)

	pool := worker.NewPool(q, gw, orchestrator, cfg.Worker.Concurrency, time.Duration(cfg.Worker.PopTimeoutSec)*time.Second)

	srv := api.New(api.Dependencies{
		Config:    cfg,
		Store:     st,
		Fabric:    gw,
		Ledger:    lg,
		Queue:     q,
		Bus:       bus,
		Hub:       hub,
		Objects:   objects,
		Validator: validator,
		Limiter:   limiter,
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received shutdown signal")
		cancel()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.RunSweeper(ctx)
	}()
	go func() {
		defer wg.Done()
		pool.Run(ctx)
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}

	wg.Wait()
	slog.Info("videogen control plane stopped")
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Database.Backend {
	case "postgres":
		return store.NewPostgresStore(cfg.Database.Postgres.DSN)
	case "memory":
		return store.NewMemoryStore(), nil
	default:
		return store.NewSupabaseStore(cfg.Database.Supabase.URL, cfg.Database.Supabase.ServiceKey)
	}
}

func buildObjectStore(cfg *config.Config) (objectstore.ObjectStore, error) {
	if cfg.Database.Backend == "memory" {
		return objectstore.NewMemoryObjectStore(), nil
	}
	client, err := supabase.NewClient(cfg.Database.Supabase.URL, cfg.Database.Supabase.ServiceKey, &supabase.ClientOptions{})
	if err != nil {
		slog.Warn("objectstore: supabase client init failed, falling back to in-memory store", "error", err)
		return objectstore.NewMemoryObjectStore(), nil
	}
	return objectstore.NewSupabaseObjectStore(client), nil
}

func buildFabric(cfg *config.Config) (fabric.Gateway, error) {
	if cfg.Fabric.Backend == "memory" {
		return fabric.NewMemoryGateway(), nil
	}
	gw, err := fabric.NewRedisGateway(cfg.Fabric.Addr, cfg.Fabric.Password, cfg.Fabric.DB, cfg.Fabric.Prefix)
	if err != nil {
		slog.Warn("fabric: redis connection failed, falling back to in-memory gateway", "addr", cfg.Fabric.Addr, "error", err)
		return fabric.NewMemoryGateway(), nil
	}
	return gw, nil
}

// buildStages wires the real HTTP-backed media collaborators in
// production/staging. Development defaults to FakeStages so the full
// S1-S6 pipeline runs end to end without the five out-of-scope services.
func buildStages(cfg *config.Config) media.Stages {
	if cfg.IsDevelopment() && cfg.Media.AnalysisURL == "" {
		slog.Info("media: no collaborator URLs configured, using FakeStages")
		return media.NewFakeStages()
	}
	return media.NewHTTPClient(
		cfg.Media.AnalysisURL,
		cfg.Media.PlanningURL,
		cfg.Media.ReferencesURL,
		cfg.Media.PromptingURL,
		cfg.Media.GenerationURL,
		cfg.Media.CompositionURL,
		time.Duration(cfg.Media.TimeoutSec)*time.Second,
	)
}
