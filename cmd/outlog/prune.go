package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapp-incubator/outlog/pkg/retention"
)

func newPruneCmd(opts *rootOptions) *cobra.Command {
	var maxAge int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete outgoing request logs older than max_age days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			days := a.MaxAge()
			if cmd.Flags().Changed("max-age") {
				days = &maxAge
			}

			deleted, err := a.Pruner.Prune(cmd.Context(), days)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), retention.Summary(deleted))
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAge, "max-age", 0, "Override max_age (days)")

	return cmd
}
