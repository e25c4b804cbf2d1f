package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snapp-incubator/outlog/internal/app"
	"github.com/snapp-incubator/outlog/pkg/policy"
)

func newPolicyCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show or change the persistence policy",
	}

	cmd.AddCommand(newPolicyShowCmd(opts), newPolicySetCmd(opts))

	return cmd
}

func newPolicyShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persistence policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			return printPolicy(cmd, a)
		},
	}
}

func newPolicySetCmd(opts *rootOptions) *cobra.Command {
	var (
		saveToDB, saveBody string
		maxContentLength   int64
		resetAfter         int
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the persistence policy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var toggles [2]*policy.Toggle
			for i, flag := range []struct{ name, value string }{{"save-to-db", saveToDB}, {"save-body", saveBody}} {
				if !cmd.Flags().Changed(flag.name) {
					continue
				}
				t, err := policy.ParseToggle(flag.value)
				if err != nil {
					return fmt.Errorf("--%s: %w", flag.name, err)
				}
				toggles[i] = &t
			}

			a, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			_, err = a.Policy.Update(cmd.Context(), func(p *policy.Policy) {
				if toggles[0] != nil {
					p.SaveToDB = *toggles[0]
				}
				if toggles[1] != nil {
					p.SaveBody = *toggles[1]
				}
				if cmd.Flags().Changed("max-content-length") {
					p.MaxContentLength = maxContentLength
				}
				if cmd.Flags().Changed("reset-after") {
					p.ResetAfter = &resetAfter
				}
			})
			if err != nil {
				return err
			}

			return printPolicy(cmd, a)
		},
	}

	cmd.Flags().StringVar(&saveToDB, "save-to-db", "", "yes, no or use_default")
	cmd.Flags().StringVar(&saveBody, "save-body", "", "yes, no or use_default")
	cmd.Flags().Int64Var(&maxContentLength, "max-content-length", 0, "Largest body saved, in bytes")
	cmd.Flags().IntVar(&resetAfter, "reset-after", 0, "Minutes before an explicit save-to-db reverts to use_default")

	return cmd
}

func printPolicy(cmd *cobra.Command, a *app.App) error {
	var out struct {
		policy.Policy
		Effective struct {
			Save     bool `json:"save"`
			SaveBody bool `json:"save_body"`
		} `json:"effective"`
	}
	out.Policy = a.Policy.Current()
	out.Effective.Save = a.Policy.SaveEnabled()
	out.Effective.SaveBody = a.Policy.SaveBodyEnabled()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
