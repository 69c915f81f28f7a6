package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"peerdrop/crypto"
)

func newIDCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "print this node's id and key fingerprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.loadConfig()
			if err != nil {
				return err
			}
			identity, err := crypto.LoadOrCreateIdentity(cfg.KeysDir())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Node ID:         %s\n", identity.ID)
			fmt.Fprintf(out, "Fingerprint:     %s\n", crypto.FormatFingerprint(identity.ID.Fingerprint()))
			fmt.Fprintf(out, "Node Name:       %s\n", cfg.NodeName)
			fmt.Fprintf(out, "Data Directory:  %s\n", cfg.DataDir)
			return nil
		},
	}
}

func newAddrCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "addr",
		Short: "print a ticket peers can use to message this node",
		Long:  `addr starts the node long enough to learn its addresses and prints a ticket naming it, without any content`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _, err := opts.startNode(cmd.Context())
			if err != nil {
				return err
			}
			defer n.Close()

			fmt.Fprintln(cmd.OutOrStdout(), n.MyAddr())
			return nil
		},
	}
}
