package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-bsr-tracker/config"
	"github.com/aluiziolira/go-bsr-tracker/pipeline"
)

func newRunCmd(global *globalOptions) *cobra.Command {
	var (
		books      []string
		booksFile  string
		parallel   int
		timeout    time.Duration
		maxRetries int
		exportPath string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every tracked book once and publish the results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("books") {
				cfg.BookURLs = books
			}
			if flags.Changed("books-file") {
				cfg.BooksFile = booksFile
			}
			if flags.Changed("parallel") {
				cfg.Parallelism = parallel
			}
			if flags.Changed("timeout") {
				cfg.Timeout = timeout
			}
			if flags.Changed("max-retries") {
				cfg.MaxRetries = maxRetries
			}
			if err := cfg.ResolveBooks(); err != nil {
				return err
			}
			if err := cfg.ValidateScrape(); err != nil {
				slog.Error("invalid configuration", slog.Any("error", err))
				return err
			}

			var exports []pipeline.OutputWriter
			if exportPath != "" {
				writer, err := createWriter(format, exportPath)
				if err != nil {
					return err
				}
				defer func() {
					if err := writer.Close(); err != nil {
						slog.Error("close writer", slog.Any("error", err))
					}
				}()
				exports = append(exports, writer)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			report, err := newCycleRunner(cfg, exports...).Run(ctx)
			if err != nil {
				return fmt.Errorf("cycle %s: %w", report.RunID, err)
			}
			if report.Output.TotalBooks > 0 {
				for _, w := range exports {
					if err := w.Validate(); err != nil {
						return fmt.Errorf("export validation failed: %w", err)
					}
				}
			}

			printSummary(cmd.OutOrStdout(), report, cfg.DataDir)
			return nil
		},
	}

	defaults := config.DefaultConfig()
	cmd.Flags().StringSliceVar(&books, "books", nil, "Product page URLs to track (comma separated)")
	cmd.Flags().StringVar(&booksFile, "books-file", "", "File with one product page URL per line")
	cmd.Flags().IntVar(&parallel, "parallel", defaults.Parallelism, "Number of concurrent requests")
	cmd.Flags().DurationVar(&timeout, "timeout", defaults.Timeout, "Per-request timeout")
	cmd.Flags().IntVar(&maxRetries, "max-retries", defaults.MaxRetries, "Maximum retry attempts per URL")
	cmd.Flags().StringVar(&exportPath, "export", "", "Also write the leaderboard to this file")
	cmd.Flags().StringVar(&format, "format", "csv", "Export format: csv, json, or dual")

	return cmd
}
