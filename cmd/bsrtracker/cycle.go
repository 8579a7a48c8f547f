package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aluiziolira/go-bsr-tracker/config"
	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/pipeline"
	"github.com/aluiziolira/go-bsr-tracker/scraper"
)

// cycleRunner runs scrape-and-publish cycles against one set of documents.
type cycleRunner struct {
	cfg             *config.Config
	stores          pipeline.Stores
	scraperMetrics  *scraper.Metrics
	pipelineMetrics *pipeline.Metrics
	exports         []pipeline.OutputWriter
}

func newCycleRunner(cfg *config.Config, exports ...pipeline.OutputWriter) *cycleRunner {
	scraperMetrics := scraper.NewMetrics()
	return &cycleRunner{
		cfg:             cfg,
		stores:          pipeline.NewStores(cfg),
		scraperMetrics:  scraperMetrics,
		pipelineMetrics: pipeline.NewMetrics(scraperMetrics.Registry),
		exports:         exports,
	}
}

type cycleReport struct {
	RunID    string
	Scrape   *models.ScraperResult
	Output   models.OutputData
	Pipeline map[string]interface{}
	Duration time.Duration
}

// Run scrapes every configured book and publishes the results.
func (c *cycleRunner) Run(ctx context.Context) (*cycleReport, error) {
	report := &cycleReport{RunID: uuid.NewString()}
	logger := slog.With(slog.String("run_id", report.RunID))
	start := time.Now()

	ctx, span := otel.Tracer("bsrtracker/cycle").Start(ctx, "cycle",
		trace.WithAttributes(
			attribute.String("run_id", report.RunID),
			attribute.Int("books", len(c.cfg.BookURLs)),
		),
	)
	defer span.End()

	logger.Info("starting cycle",
		slog.Int("books", len(c.cfg.BookURLs)),
		slog.Int("workers", c.cfg.Parallelism),
		slog.String("data_dir", c.cfg.DataDir),
	)

	s, err := scraper.NewScraper(c.cfg, scraper.WithMetrics(c.scraperMetrics))
	if err != nil {
		return report, fmt.Errorf("initialise scraper: %w", err)
	}
	result, err := s.Run(ctx)
	if err != nil {
		return report, fmt.Errorf("scrape: %w", err)
	}
	report.Scrape = result

	p, err := pipeline.NewPipeline(c.cfg, c.stores,
		pipeline.WithMetrics(c.pipelineMetrics),
		pipeline.WithExports(c.exports...),
	)
	if err != nil {
		return report, err
	}
	if err := p.Process(result.Books...); err != nil {
		return report, err
	}
	out, err := p.Publish(ctx)
	report.Output = out
	report.Pipeline = p.GetMetrics()
	report.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		logger.Error("cycle failed", slog.Any("error", err))
		return report, err
	}
	span.SetAttributes(
		attribute.Int("valid", out.ValidBooks),
		attribute.Int("failed", out.FailedBooks),
	)

	logger.Info("cycle complete",
		slog.Int("valid", out.ValidBooks),
		slog.Int("failed", out.FailedBooks),
		slog.Duration("duration", report.Duration),
	)
	return report, nil
}

func printSummary(w io.Writer, report *cycleReport, dataDir string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(w, "\n"+separator)
	fmt.Fprintln(w, "Cycle complete")
	fmt.Fprintf(w, "  Run ID:        %s\n", report.RunID)

	if result := report.Scrape; result != nil {
		successRate := 0.0
		if result.RequestCount > 0 {
			successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
		}
		fmt.Fprintf(w, "  Books:         %d\n", result.TotalCount)
		fmt.Fprintf(w, "  Success rate:  %.2f%%\n", successRate)
		fmt.Fprintf(w, "  Errors:        %d\n", result.ErrorCount)
		fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
		fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
		if len(result.ErrorsByType) > 0 {
			fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
		}
	}
	if valErrors, ok := report.Pipeline["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Fprintf(w, "  Validation:    %v\n", valErrors)
	}
	fmt.Fprintf(w, "  Ranked:        %d valid, %d failed\n", report.Output.ValidBooks, report.Output.FailedBooks)
	fmt.Fprintf(w, "  Duration:      %v\n", report.Duration)
	fmt.Fprintf(w, "  Data dir:      %s\n", dataDir)
	fmt.Fprintln(w, separator)
}
