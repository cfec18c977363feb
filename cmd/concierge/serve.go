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
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cghttp "github.com/Strob0t/concierge/internal/adapter/http"
	cgmcp "github.com/Strob0t/concierge/internal/adapter/mcp"
	cgotel "github.com/Strob0t/concierge/internal/adapter/otel"
	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/domain/plan"
	"github.com/Strob0t/concierge/internal/middleware"
	"github.com/Strob0t/concierge/internal/secrets"
)

const shutdownTimeout = 10 * time.Second

func serveCmd(load configLoader) *cobra.Command {
	var noWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and, unless disabled, the job worker)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			closeLog := setupLogging(cfg)
			defer closeLog.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, !noWorker)
		},
	}
	cmd.Flags().BoolVar(&noWorker, "no-worker", false, "Do not consume execution jobs in this process")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, withWorker bool) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
		"worker", withWorker,
	)

	shutdownOTel, err := cgotel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.hub.Close()

	if withWorker {
		cancelWorker, err := a.worker.Start(ctx)
		if err != nil {
			return fmt.Errorf("job worker: %w", err)
		}
		defer cancelWorker()
	}

	vault, err := secrets.NewVault(secrets.WithDefaults(
		secrets.EnvLoader(secrets.PaymentWebhookSecret, secrets.MCPAPIKey),
		map[string]string{
			secrets.PaymentWebhookSecret: cfg.Webhook.PaymentSecret,
			secrets.MCPAPIKey:            cfg.MCP.APIKey,
		},
	))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}

	idem, err := a.queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
	if err != nil {
		return fmt.Errorf("idempotency store: %w", err)
	}

	// --- HTTP ---

	handlers := &cghttp.Handlers{
		Assistant: a.assistant,
		Payments:  a.enqueuer,
		Checks: map[string]cghttp.HealthCheck{
			"postgres": a.store.Ping,
			"nats": func(context.Context) error {
				if !a.queue.IsConnected() {
					return errors.New("not connected")
				}
				return nil
			},
		},
		Breakers: a.registry.BreakerStates,
	}

	r := chi.NewRouter()
	r.Use(cghttp.CORS(cfg.Server.CORSOrigin))
	r.Use(cghttp.SecurityHeaders)
	r.Use(cgotel.HTTPMiddleware(cfg.OTel.ServiceName))
	r.Use(middleware.RequestID)
	r.Use(cghttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.With(middleware.TenantID).Get("/ws", a.hub.HandleWS)
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))
		cghttp.MountRoutes(r, handlers, vault.Getter(secrets.PaymentWebhookSecret), idem)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var mcpSrv *cgmcp.Server
	if cfg.MCP.Addr != "" {
		mcpSrv = cgmcp.NewServer(cgmcp.ServerConfig{
			Addr:    cfg.MCP.Addr,
			Name:    appName,
			Version: Version,
			APIKey:  vault.Getter(secrets.MCPAPIKey),
		}, cgmcp.ServerDeps{
			Tools:     a.registry,
			Plans:     a.assistant,
			Specs:     a.registry.Specs(),
			ReadTools: a.planner.ToolsByRisk(plan.RiskRead),
		})
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vault.ReloadOn(gctx, syscall.SIGHUP)
		return nil
	})
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		var errs []error
		if mcpSrv != nil {
			errs = append(errs, mcpSrv.Stop(sctx))
		}
		errs = append(errs, srv.Shutdown(sctx))
		return errors.Join(errs...)
	})
	return g.Wait()
}
