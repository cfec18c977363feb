package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"

	"github.com/Strob0t/concierge/internal/adapter/litellm"
	cgnats "github.com/Strob0t/concierge/internal/adapter/nats"
	"github.com/Strob0t/concierge/internal/adapter/natskv"
	cgotel "github.com/Strob0t/concierge/internal/adapter/otel"
	"github.com/Strob0t/concierge/internal/adapter/postgres"
	"github.com/Strob0t/concierge/internal/adapter/ristretto"
	"github.com/Strob0t/concierge/internal/adapter/tiered"
	"github.com/Strob0t/concierge/internal/adapter/ws"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/domain/intent"
	"github.com/Strob0t/concierge/internal/port/answerer"
	"github.com/Strob0t/concierge/internal/resilience"
	"github.com/Strob0t/concierge/internal/service"
)

// bindingL1TTL bounds how stale a process-local binding may be after
// another process rebinds a tenant.
const bindingL1TTL = time.Minute

// app holds the wired infrastructure and services shared by commands.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	store     *postgres.Store
	queue     *cgnats.Queue
	hub       *ws.Hub
	metrics   *cgotel.Metrics
	registry  *service.ToolRegistry
	planner   *service.Planner
	runner    *service.PlanRunner
	assistant *service.AssistantService
	enqueuer  *service.JobEnqueuer
	worker    *service.JobWorker

	closers []func()
}

// newApp connects to Postgres and NATS and wires the services. Close
// releases everything in reverse order.
func newApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{cfg: cfg, hub: ws.NewHub(originHosts(cfg.Server.CORSOrigin)...)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// --- Infrastructure ---

	a.pool, err = postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, a.pool.Close)
	a.store = postgres.NewStore(a.pool)
	slog.Info("postgres connected")

	a.queue, err = cgnats.Connect(ctx, cfg.NATS)
	if err != nil {
		return nil, fmt.Errorf("nats: %w", err)
	}
	a.closers = append(a.closers, func() { _ = a.queue.Drain() })

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	a.closers = append(a.closers, l1.Close)
	kv, err := a.queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("l2 cache: %w", err)
	}
	bindingCache := tiered.New(l1, natskv.New(kv), bindingL1TTL)

	a.metrics, err = cgotel.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return nil, fmt.Errorf("otel metrics: %w", err)
	}

	// --- Services ---

	a.registry, err = service.NewToolRegistry(capabilities(), a.store, bindingCache, cfg.Providers, cfg.Breaker, cfg.Cache.L2TTL)
	if err != nil {
		return nil, fmt.Errorf("tool registry: %w", err)
	}

	templates, err := intent.LoadSet(cfg.Planner.TemplatesFile)
	if err != nil {
		return nil, fmt.Errorf("intent templates: %w", err)
	}
	a.planner, err = service.NewPlanner(templates, a.registry)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	a.runner = service.NewPlanRunner(a.store, a.registry, cfg.Pricing.Quote(), a.hub, cfg.Runner)
	a.runner.SetMetrics(a.metrics)

	a.assistant = service.NewAssistantService(a.planner, a.runner, newAnswerer(cfg), a.store)

	a.enqueuer = service.NewJobEnqueuer(a.store, a.queue)
	a.enqueuer.SetMetrics(a.metrics)

	a.worker = service.NewJobWorker(a.store, a.queue, a.registry, a.hub, cfg.Worker)
	a.worker.SetMetrics(a.metrics)

	return a, nil
}

// Close releases resources in reverse acquisition order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newAnswerer returns the LiteLLM fallback answerer, or nil when no proxy
// is configured.
func newAnswerer(cfg *config.Config) answerer.Answerer {
	if cfg.LiteLLM.URL == "" {
		slog.Info("fallback answerer disabled, no litellm url configured")
		return nil
	}
	client := litellm.NewClient(cfg.LiteLLM)
	client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	return client
}

// originHosts converts the CORS origin into websocket origin patterns,
// which match on host only.
func originHosts(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}
