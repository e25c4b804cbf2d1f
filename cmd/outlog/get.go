package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"
)

func newGetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "get <url>",
		Short: "Perform one instrumented GET request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			client := &http.Client{}
			a.Instrument(client)

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, args[0], nil)
			if err != nil {
				return err
			}

			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			n, _ := io.Copy(io.Discard, resp.Body)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%d bytes)\n", resp.Proto, resp.Status, n)

			return nil
		},
	}
}
