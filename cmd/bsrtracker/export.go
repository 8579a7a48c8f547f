package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-bsr-tracker/pipeline"
)

func newExportCmd(global *globalOptions) *cobra.Command {
	var (
		output string
		format string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the current leaderboard to CSV or JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			view := pipeline.NewProjector(pipeline.NewStores(cfg).Historical, nil).CurrentView()

			writer, err := createWriter(format, output)
			if err != nil {
				return err
			}
			defer func() {
				if err := writer.Close(); err != nil {
					slog.Error("close writer", slog.Any("error", err))
				}
			}()
			if err := writer.Write(view.Books); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			if view.TotalBooks > 0 {
				if err := writer.Validate(); err != nil {
					return fmt.Errorf("export validation failed: %w", err)
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d books to %s\n", view.TotalBooks, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "leaderboard.csv", "Export file path")
	cmd.Flags().StringVar(&format, "format", "csv", "Export format: csv, json, or dual")

	return cmd
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch strings.ToLower(format) {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
