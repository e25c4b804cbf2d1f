package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/snapp-incubator/outlog/internal/app"
	"github.com/snapp-incubator/outlog/internal/config"
	"github.com/snapp-incubator/outlog/internal/logging"
)

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "outlog",
		Short: "Record outgoing HTTP requests and manage their retention",
		Long: `outlog instruments outgoing HTTP calls, stores request and response
metadata (and optionally bodies) according to a runtime policy, and prunes
old records.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "The path of config file")

	cmd.AddCommand(
		newPruneCmd(opts),
		newServeCmd(opts),
		newPolicyCmd(opts),
		newGetCmd(opts),
	)

	return cmd
}

// load reads the config, sets up logging and builds the application.
func (o *rootOptions) load(ctx context.Context) (*app.App, error) {
	c, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if err := logging.InitializeLogger(c.LogLevel); err != nil {
		return nil, err
	}
	logging.L.Debug("Logger initialized", zap.String("log_level", c.LogLevel))

	store, err := app.OpenStorage(c.Storage)
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, c, store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return a, nil
}
