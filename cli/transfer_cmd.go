package cli

import (
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"peerdrop/transfer"
)

func newSendCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "send file",
		Short: "share a file and print its ticket",
		Long:  `send imports a file into the local store, prints a ticket and keeps serving it until interrupted`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, logger, err := opts.startNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			op := n.StartSend(ctx, args[0])
			logEvents(logger, op.Events())
			tk, err := op.Wait()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tk.String())
			fmt.Fprintln(cmd.ErrOrStderr(), "serving, press Ctrl+C to stop")
			<-ctx.Done()
			return nil
		},
	}
}

func newReceiveCmd(opts *rootOptions) *cobra.Command {
	var outDir string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "receive ticket",
		Short: "download the file named by a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			n, logger, err := opts.startNode(ctx)
			if err != nil {
				return err
			}
			defer n.Close()

			op := n.ReceiveFile(ctx, args[0], outDir)
			progress := io.Writer(cmd.ErrOrStderr())
			if quiet {
				progress = io.Discard
			}
			showProgress(progress, logger, op.Events())

			result, err := op.Wait()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Path)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "out", "o", "", "download directory (default: configured download dir)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "hide the progress bar")
	return cmd
}

func logEvents(logger logrus.FieldLogger, events <-chan transfer.Event) {
	for event := range events {
		entry := logger.WithField("step", event.Kind)
		if event.Kind == transfer.EventError {
			entry.Warn(event.Message)
			continue
		}
		entry.Info(event.Message)
	}
}

// showProgress drives a byte progress bar from download events and logs the rest.
func showProgress(w io.Writer, logger logrus.FieldLogger, events <-chan transfer.Event) {
	var bar *progressbar.ProgressBar
	for event := range events {
		switch event.Kind {
		case transfer.EventProgress:
			if bar == nil {
				total := event.Total
				if total <= 0 {
					total = -1
				}
				bar = progressbar.NewOptions64(total,
					progressbar.OptionSetWriter(w),
					progressbar.OptionSetDescription("downloading"),
					progressbar.OptionShowBytes(true),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set64(event.Bytes)
		case transfer.EventError:
			logger.WithField("step", event.Kind).Warn(event.Message)
		default:
			if bar != nil && event.Kind == transfer.EventWriting {
				_ = bar.Finish()
			}
			logger.WithField("step", event.Kind).Debug(event.Message)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}
}
