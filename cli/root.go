// Package cli implements the peerdrop command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"peerdrop/config"
	"peerdrop/logging"
	"peerdrop/node"
)

type rootOptions struct {
	dataDir   string
	logLevel  string
	logFormat string
	envFile   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "peerdrop",
		Short:         "send files and messages directly between peers",
		Long:          `peerdrop shares files and short messages between two machines over QUIC, using tickets to find each other`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.dataDir, "data-dir", "", "application data directory (default: OS data dir or $PEERDROP_DATA_DIR)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file with PEERDROP_* overrides")

	cmd.AddCommand(
		newIDCmd(opts),
		newAddrCmd(opts),
		newSendCmd(opts),
		newReceiveCmd(opts),
		newChatCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig resolves the data directory, then layers dotenv, environment
// and flag overrides over config.json.
func (o *rootOptions) loadConfig() (*config.NodeConfig, *logrus.Logger, error) {
	if err := config.LoadDotEnv(o.envFile); err != nil {
		return nil, nil, err
	}

	dataDir, err := config.ResolveDataDir(o.dataDir)
	if err != nil {
		return nil, nil, err
	}
	cfg, _, err := config.LoadOrCreate(dataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	env, err := config.ReadEnv()
	if err != nil {
		return nil, nil, err
	}
	if err := env.Apply(cfg); err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.LogFormat = o.logFormat
	}

	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// startNode loads configuration and starts the process node. The caller
// closes it.
func (o *rootOptions) startNode(ctx context.Context) (*node.Node, *logrus.Logger, error) {
	cfg, logger, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	n, err := node.Init(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return n, logger, nil
}
