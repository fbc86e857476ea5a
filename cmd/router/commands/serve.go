package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/polyglot-media-router/internal/pkg/config"
	"github.com/tjfontaine/polyglot-media-router/internal/runtime"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until interrupted.

Endpoints:
  POST /v1/classify           classify and route one request
  POST /v1/cache/invalidate   drop a cached classification
  GET  /healthz               component health
  GET  /metrics               Prometheus metrics

The config file is watched; limit and routing changes apply without a restart.

Examples:
  router serve
  router serve --config /etc/router/config.yaml --port 9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := g.logger(os.Stdout)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			opts := []runtime.Option{runtime.WithLogger(logger)}
			if path := g.configPath; path != "" {
				opts = append(opts, runtime.WithFileConfig(path))
			} else if _, err := os.Stat(config.DefaultPath); err == nil {
				opts = append(opts, runtime.WithFileConfig(config.DefaultPath))
			} else {
				cfg, err := g.loadConfig()
				if err != nil {
					return err
				}
				opts = append(opts, runtime.WithConfig(cfg))
			}
			if cmd.Flags().Changed("port") {
				opts = append(opts, runtime.WithPort(port))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := runtime.New(ctx, opts...)
			if err != nil {
				return fmt.Errorf("creating service: %w", err)
			}
			if err := svc.Start(ctx); err != nil {
				_ = svc.Shutdown(context.Background())
				return fmt.Errorf("starting service: %w", err)
			}

			<-ctx.Done()
			logger.Info("shutdown signal received, stopping service")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return svc.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	return cmd
}
