package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gezibash/arc-shares/internal/cli"
	"github.com/gezibash/arc-shares/internal/config"
	"github.com/gezibash/arc-shares/internal/observability"
	"github.com/gezibash/arc-shares/internal/sharestore"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve shares over HTTP",
		Long: `Serve the share HTTP API together with /metrics and /health until
interrupted.

  GET    /shares/{si}         share numbers held for an index
  GET    /shares/{si}/{num}   container data
  PUT    /shares/{si}/{num}   store a container (?layout=mutable)
  DELETE /shares/{si}/{num}   remove a share
  GET    /resolve/{prefix}    resolve an index prefix

Examples:
  arc-shares serve --addr :7788 --backend badger
  arc-shares serve --config /etc/arc/shares.yaml --otlp-endpoint localhost:4318`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(v, configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	config.BindServeFlags(cmd, v)
	return cmd
}

// serve runs until ctx is done, then shuts the HTTP server, tracer and
// store down in reverse order.
func serve(ctx context.Context, cfg config.Config) error {
	obs, err := observability.New(ctx, cfg.Observability.ObsConfig(), os.Stderr)
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	store, err := cli.OpenStore(ctx, cfg, obs.Metrics)
	if err != nil {
		_ = obs.Close(context.Background())
		return err
	}
	obs.Shutdown.Register("sharestore", func(context.Context) error { return store.Close() })

	addr, err := obs.Serve(cfg.HTTP.Addr, sharestore.NewHandler(store))
	if err != nil {
		_ = obs.Close(context.Background())
		return err
	}
	slog.Info("serving shares",
		"addr", addr.String(),
		"backend", cfg.Storage.Backend,
		"max_container_size", cfg.Storage.MaxContainerSize,
	)

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return obs.Close(shutdownCtx)
}
