package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "exchange short text messages",
	}
	cmd.AddCommand(newChatSendCmd(opts), newChatListenCmd(opts))
	return cmd
}

func newChatSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send ticket text...",
		Short: "send a message to the node named by a ticket",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, _, err := opts.startNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			return n.SendText(ctx, args[0], "", strings.Join(args[1:], " "))
		},
	}
}

func newChatListenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "print incoming messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, _, err := opts.startNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			inbox, err := n.SubscribeMessages()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "listening as %s\nreply ticket: %s\n", n.ID().Short(), n.MyAddr())
			for {
				select {
				case msg := <-inbox:
					fmt.Fprintf(out, "[%s] %s: %s\n", msg.ReceivedAt.Format(time.TimeOnly), msg.From.Short(), msg.Text)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
}
