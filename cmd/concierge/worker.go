package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	cgotel "github.com/Strob0t/concierge/internal/adapter/otel"
)

func workerCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume execution jobs without serving HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			closeLog := setupLogging(cfg)
			defer closeLog.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownOTel, err := cgotel.Setup(ctx, cfg.OTel)
			if err != nil {
				return fmt.Errorf("otel: %w", err)
			}
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				_ = shutdownOTel(sctx)
			}()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			cancelWorker, err := a.worker.Start(ctx)
			if err != nil {
				return fmt.Errorf("job worker: %w", err)
			}
			defer cancelWorker()

			<-ctx.Done()
			slog.Info("shutting down worker")
			return nil
		},
	}
}
