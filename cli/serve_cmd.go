package cli

import (
	"github.com/spf13/cobra"

	"peerdrop/api"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the node with the local control API",
		Long:  `serve runs the node in the foreground and exposes it over HTTP and WebSocket on a loopback address for a UI process`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, logger, err := opts.startNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			addr := apiAddr
			if addr == "" {
				addr = n.Config().APIAddress
			}
			return api.Serve(ctx, addr, api.NewHandler(n, logger).Routes(), logger)
		},
	}

	cmd.Flags().StringVar(&apiAddr, "api-addr", "", "control API listen address (default: configured api_address)")
	return cmd
}
