package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/pipeline"
)

func newHistoryCmd(global *globalOptions) *cobra.Command {
	var (
		days   int
		url    string
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show daily snapshots, or one book's rank series with --url",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != "table" && format != "json" {
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}

			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			snapshots := pipeline.NewStores(cfg).Snapshots
			out := cmd.OutOrStdout()

			if url != "" {
				series := snapshots.BookSeries(url, days)
				if format == "json" {
					return writeIndentedJSON(out, series)
				}
				renderSeries(out, url, series)
				return nil
			}

			doc := snapshots.Query(days)
			if format == "json" {
				return writeIndentedJSON(out, doc)
			}
			renderSnapshots(out, doc)
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 0, "Only include the last N days (0 for everything retained)")
	cmd.Flags().StringVar(&url, "url", "", "Show the rank series of one book")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func renderSnapshots(w io.Writer, doc models.HistoryDocument) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Date", "Rank", "Title", "Author"})

	for _, snapshot := range doc.DailySnapshots {
		for i, book := range snapshot.Books {
			date := ""
			if i == 0 {
				date = snapshot.Date
			}
			t.AppendRow(table.Row{date, formatRank(book.BSR), runewidth.Truncate(book.Title, titleWidth, "…"), book.Author})
		}
		t.AppendSeparator()
	}
	t.Render()
}

func renderSeries(w io.Writer, url string, series []models.SeriesPoint) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.SetTitle("%s", url)
	t.AppendHeader(table.Row{"Date", "Rank"})

	for _, point := range series {
		rank := "not recorded"
		if point.BSR != nil {
			rank = formatRank(*point.BSR)
		}
		t.AppendRow(table.Row{point.Date, rank})
	}
	t.Render()
}

func formatRank(rank int) string {
	if rank <= 0 {
		return "-"
	}
	return strconv.Itoa(rank)
}
