// Package main is the concierge binary: the HTTP API with its embedded job
// worker, a standalone worker, and operator commands for migrations,
// failed jobs and tenant provider bindings.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/concierge/internal/config"
	"github.com/Strob0t/concierge/internal/logger"
)

const (
	Version = "0.1.0"
	appName = "concierge"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Hotel concierge planning and execution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "Config file path (YAML)")

	load := func() (*config.Config, error) {
		return config.LoadFrom(configPath)
	}

	cmd.AddCommand(
		serveCmd(load),
		workerCmd(load),
		migrateCmd(load),
		jobsCmd(load),
		bindingsCmd(load),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// configLoader defers config loading until a command runs, after flags parse.
type configLoader func() (*config.Config, error)

// setupLogging installs the configured logger as the slog default.
func setupLogging(cfg *config.Config) logger.Closer {
	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	return closer
}
