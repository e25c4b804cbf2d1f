package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/admin"
	"github.com/snapp-incubator/outlog/internal/config"
	"github.com/snapp-incubator/outlog/internal/logging"
	"github.com/snapp-incubator/outlog/internal/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the prune schedule, the metrics endpoint and the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := opts.load(ctx)
			if err != nil {
				return err
			}

			if err := a.Start(ctx); err != nil {
				return err
			}

			c := a.Config()
			if c.Metrics.Enabled {
				go metrics.InitializeHTTP(c.Metrics.Bind)
			}

			if c.Admin.Enabled {
				srv := admin.NewServer(a.Policy, a.Store, a.Pruner, a.MaxAge)
				go func() {
					if err := srv.Serve(ctx, c.Admin.Bind); err != nil {
						logging.L.Error("Admin server stopped", zap.Error(err))
					}
				}()
			}

			if err := config.Watch(opts.configPath, a.Apply); err != nil {
				logging.L.Warn("Config hot reload disabled", zap.Error(err))
			}

			logging.L.Info("outlog is running")
			<-ctx.Done()
			logging.L.Info("Shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			return a.Close(shutdownCtx)
		},
	}
}
