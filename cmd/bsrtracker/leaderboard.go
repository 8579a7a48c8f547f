package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/pipeline"
)

const titleWidth = 48

func newLeaderboardCmd(global *globalOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show the current leaderboard, best rank first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}

			view := pipeline.NewProjector(pipeline.NewStores(cfg).Historical, nil).CurrentView()

			switch format {
			case "json":
				return writeIndentedJSON(cmd.OutOrStdout(), view)
			case "table":
				renderLeaderboard(cmd.OutOrStdout(), view)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "table", "Output format: table or json")
	return cmd
}

func renderLeaderboard(w io.Writer, view models.OutputData) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Rank", "Change", "Title", "Author", "Scraped"})

	for i, book := range view.Books {
		rank := "-"
		if book.BestSellersRank > 0 {
			rank = strconv.Itoa(book.BestSellersRank)
		}
		title := book.Title
		if book.Failed() {
			title = "(" + book.Error + ") " + title
		}
		t.AppendRow(table.Row{
			i + 1,
			rank,
			rankChange(book.History),
			runewidth.Truncate(title, titleWidth, "…"),
			book.Author,
			book.ScrapedAt.Local().Format(time.DateTime),
		})
	}

	t.AppendFooter(table.Row{"", "", "", fmt.Sprintf("%d books, %d failed", view.TotalBooks, view.FailedBooks), "", view.GeneratedAt.Local().Format(time.DateTime)})
	t.Render()
}

// rankChange compares the two latest ranked points. A positive change means
// the book climbed.
func rankChange(history []models.HistoricalDataPoint) string {
	var ranked []int
	for i := len(history) - 1; i >= 0 && len(ranked) < 2; i-- {
		if history[i].BSR > 0 {
			ranked = append(ranked, history[i].BSR)
		}
	}
	if len(ranked) < 2 {
		return ""
	}
	diff := ranked[1] - ranked[0]
	switch {
	case diff > 0:
		return "▲ " + strconv.Itoa(diff)
	case diff < 0:
		return "▼ " + strconv.Itoa(-diff)
	default:
		return "="
	}
}

func writeIndentedJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
