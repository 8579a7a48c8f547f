package pipeline

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/store"
)

func ranked(url string, rank int) models.BookWithHistory {
	return models.BookWithHistory{BookMetadata: models.BookMetadata{URL: url, BestSellersRank: rank}}
}

func TestSortByRankPutsUnrankedLast(t *testing.T) {
	books := []models.BookWithHistory{
		ranked("a", 50),
		ranked("b", 0),
		ranked("c", 10),
		ranked("d", 0),
		ranked("e", 5),
	}

	SortByRank(books)

	wantRanks := []int{5, 10, 50, 0, 0}
	for i, want := range wantRanks {
		if books[i].BestSellersRank != want {
			t.Fatalf("ranks = %v, want %v", ranks(books), wantRanks)
		}
	}
	if books[3].URL != "b" || books[4].URL != "d" {
		t.Fatalf("unranked books should keep input order, got %s, %s", books[3].URL, books[4].URL)
	}
}

func TestProjectCountsAndDoesNotMutateInput(t *testing.T) {
	failed := ranked("f", 0)
	failed.Error = "forbidden: http status 403"
	input := []models.BookWithHistory{ranked("a", 30), failed, ranked("b", 0), ranked("c", 2)}
	generatedAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	out := Project(input, generatedAt)

	if out.TotalBooks != 4 || out.ValidBooks != 3 || out.FailedBooks != 1 {
		t.Fatalf("totals = %d/%d/%d", out.TotalBooks, out.ValidBooks, out.FailedBooks)
	}
	if out.Books[0].URL != "c" || out.Books[1].URL != "a" {
		t.Fatalf("books = %v", ranks(out.Books))
	}
	if input[0].URL != "a" {
		t.Fatalf("input slice was reordered")
	}
	if !out.GeneratedAt.Equal(generatedAt) {
		t.Fatalf("generatedAt = %s", out.GeneratedAt)
	}
}

func TestProjectorCurrentViewEmptyStore(t *testing.T) {
	historical := store.NewHistoricalStore(filepath.Join(t.TempDir(), "historical.json"), 30)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	view := NewProjector(historical, fixedClock(now)).CurrentView()
	if view.TotalBooks != 0 || len(view.Books) != 0 {
		t.Fatalf("expected empty view, got %+v", view)
	}
	if !view.GeneratedAt.Equal(now) {
		t.Fatalf("generatedAt = %s", view.GeneratedAt)
	}
}

func ranks(books []models.BookWithHistory) []int {
	out := make([]int, 0, len(books))
	for _, b := range books {
		out = append(out, b.BestSellersRank)
	}
	return out
}
