package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/server"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var (
		addr            string
		refreshInterval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the leaderboard and rank history over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.ListenAddr = addr
			}
			if err := cfg.ResolveBooks(); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			runner := newCycleRunner(cfg)
			opts := []server.Option{server.WithGatherer(runner.scraperMetrics.Registry)}
			canRefresh := cfg.ValidateScrape() == nil
			if canRefresh {
				opts = append(opts, server.WithRefresh(func(ctx context.Context) (models.OutputData, error) {
					report, err := runner.Run(ctx)
					return report.Output, err
				}))
			} else {
				slog.Warn("no book URLs configured; refresh disabled")
			}
			srv := server.New(runner.stores, opts...)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if refreshInterval > 0 && canRefresh {
				go refreshLoop(ctx, srv, refreshInterval)
			}

			httpServer := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				slog.Info("server listening", slog.String("addr", cfg.ListenAddr), slog.String("data_dir", cfg.DataDir))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return err
				}
			case <-ctx.Done():
				slog.Info("shutdown signal received, draining connections")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown failed", slog.Any("error", err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().DurationVar(&refreshInterval, "refresh-interval", 0, "Run a cycle on this interval (0 disables)")

	return cmd
}

// refreshLoop runs cycles back to back on every tick. A tick that lands
// while a cycle is still running is skipped.
func refreshLoop(ctx context.Context, srv *server.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := srv.Refresh(ctx); err != nil {
				if errors.Is(err, server.ErrRefreshInProgress) {
					slog.Debug("skipping scheduled refresh", slog.Any("error", err))
					continue
				}
				slog.Error("scheduled refresh failed", slog.Any("error", err))
			}
		}
	}
}
