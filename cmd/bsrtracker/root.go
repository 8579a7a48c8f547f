package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-bsr-tracker/config"
	"github.com/aluiziolira/go-bsr-tracker/telemetry"
)

type globalOptions struct {
	dataDir string
	envFile string
	verbose bool
	trace   bool

	shutdownTracing func(context.Context) error
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "bsrtracker",
		Short:         "Track Amazon best sellers rank for a list of books",
		Long:          "bsrtracker scrapes product pages, keeps a rolling rank history and serves the leaderboard.",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			logger, level := newLogger(opts.verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			if !opts.trace {
				return nil
			}
			shutdown, err := telemetry.Init(cmd.Context(), telemetry.Config{
				ServiceVersion: version,
				Writer:         cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			opts.shutdownTracing = shutdown
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.shutdownTracing == nil {
				return nil
			}
			return opts.shutdownTracing(context.Background())
		},
	}

	root.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Directory holding the JSON documents (default $XDG_DATA_HOME/bsr-tracker)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with BSR_* settings")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose logging")
	root.PersistentFlags().BoolVar(&opts.trace, "trace", false, "Print OpenTelemetry spans to stderr")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newLeaderboardCmd(opts))
	root.AddCommand(newHistoryCmd(opts))
	root.AddCommand(newExportCmd(opts))

	root.SetErrPrefix("bsrtracker:")
	root.SetOut(os.Stdout)
	return root
}

// loadConfig layers env, .env and the persistent flags over the defaults.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.envFile)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	cfg.Verbose = o.verbose
	return cfg, nil
}
