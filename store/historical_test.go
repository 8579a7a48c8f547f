package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-bsr-tracker/models"
)

func newHistoricalStore(t *testing.T, clock *fakeClock, opts ...Option) *HistoricalStore {
	t.Helper()
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewHistoricalStore(filepath.Join(t.TempDir(), "historical.json"), 30, opts...)
}

func TestMergeTwoDayScenario(t *testing.T) {
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: day1}
	s := newHistoricalStore(t, clock)

	merged := s.Merge([]models.BookMetadata{{URL: "A", BestSellersRank: 1000, ScrapedAt: day1}})
	if err := s.Write(merged); err != nil {
		t.Fatalf("write day 1: %v", err)
	}

	books := s.Read()
	if len(books) != 1 || books[0].URL != "A" {
		t.Fatalf("books after day 1 = %+v", books)
	}
	if len(books[0].History) != 1 || books[0].History[0].BSR != 1000 || !books[0].History[0].Date.Equal(day1) {
		t.Fatalf("history after day 1 = %+v", books[0].History)
	}

	clock.now = day2
	merged = s.Merge([]models.BookMetadata{{URL: "A", BestSellersRank: 900, ScrapedAt: day2}})
	if err := s.Write(merged); err != nil {
		t.Fatalf("write day 2: %v", err)
	}

	books = s.Read()
	history := books[0].History
	if len(history) != 2 {
		t.Fatalf("history after day 2 = %+v", history)
	}
	if history[1].BSR >= history[0].BSR {
		t.Fatalf("rank should improve: %+v", history)
	}
	if books[0].BestSellersRank != 900 {
		t.Fatalf("current rank = %d, want 900", books[0].BestSellersRank)
	}
}

func TestMergeAppendOrder(t *testing.T) {
	start := time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: start}
	s := newHistoricalStore(t, clock)

	ranks := []int{300, 200, 250}
	for i, rank := range ranks {
		clock.now = start.AddDate(0, 0, i)
		merged := s.Merge([]models.BookMetadata{observation("a", rank, clock.now)})
		if err := s.Write(merged); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	history := s.Read()[0].History
	if len(history) != len(ranks) {
		t.Fatalf("history = %+v", history)
	}
	for i, rank := range ranks {
		if history[i].BSR != rank || !history[i].Date.Equal(start.AddDate(0, 0, i)) {
			t.Fatalf("point %d = %+v, want rank %d", i, history[i], rank)
		}
	}
}

func TestMergePrunesOldPoints(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	s := newHistoricalStore(t, clock)

	seed := []models.BookWithHistory{{
		BookMetadata: observation("a", 10, now.AddDate(0, 0, -1)),
		History: []models.HistoricalDataPoint{
			{Date: now.AddDate(0, 0, -45), BSR: 40},
			{Date: now.Add(-30*24*time.Hour - time.Minute), BSR: 30},
			{Date: now.AddDate(0, 0, -29), BSR: 20},
			{Date: now.AddDate(0, 0, -1), BSR: 10},
		},
	}}
	if err := s.Write(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	merged := s.Merge([]models.BookMetadata{observation("a", 5, now)})
	history := merged[0].History
	if len(history) != 3 {
		t.Fatalf("history = %+v, want 3 points", history)
	}
	cutoff := now.Add(-30 * 24 * time.Hour)
	for _, point := range history {
		if point.Date.Before(cutoff) {
			t.Fatalf("point %+v older than retention", point)
		}
	}
	if history[2].BSR != 5 {
		t.Fatalf("new point should be last, got %+v", history)
	}
}

func TestMergeDropsMissingBooksAndKeepsScrapeOrder(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	s := newHistoricalStore(t, clock)

	first := s.Merge([]models.BookMetadata{
		observation("a", 1, now),
		observation("b", 2, now),
		observation("c", 3, now),
	})
	if err := s.Write(first); err != nil {
		t.Fatalf("write: %v", err)
	}

	clock.advance(24 * time.Hour)
	merged := s.Merge([]models.BookMetadata{
		observation("c", 30, clock.now),
		observation("d", 40, clock.now),
		observation("a", 10, clock.now),
	})

	want := []string{"c", "d", "a"}
	if len(merged) != len(want) {
		t.Fatalf("merged = %+v", merged)
	}
	for i, url := range want {
		if merged[i].URL != url {
			t.Fatalf("merged[%d] = %s, want %s", i, merged[i].URL, url)
		}
	}
	if len(merged[0].History) != 2 || len(merged[1].History) != 1 {
		t.Fatalf("history carry-over wrong: c=%d d=%d", len(merged[0].History), len(merged[1].History))
	}

	if got := len(s.Read()); got != 3 {
		t.Fatalf("merge must not write; stored books = %d, want 3", got)
	}
}

func TestMergeDuplicateURLInBatch(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	s := newHistoricalStore(t, clock)

	merged := s.Merge([]models.BookMetadata{
		observation("a", 100, now),
		observation("a", 90, now.Add(time.Minute)),
	})
	if len(merged) != 1 {
		t.Fatalf("duplicate url produced %d records", len(merged))
	}
	if len(merged[0].History) != 2 || merged[0].BestSellersRank != 90 {
		t.Fatalf("record = %+v", merged[0])
	}
}

func TestMergeFailedScrapeCarriesDisplayFields(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	s := newHistoricalStore(t, clock)

	if err := s.Write(s.Merge([]models.BookMetadata{observation("a", 100, now)})); err != nil {
		t.Fatalf("seed: %v", err)
	}

	clock.advance(time.Hour)
	failed := models.BookMetadata{URL: "a", ScrapedAt: clock.now, Error: "forbidden: http status 403"}
	merged := s.Merge([]models.BookMetadata{failed})

	got := merged[0]
	if got.Error != failed.Error {
		t.Fatalf("error = %q, want %q", got.Error, failed.Error)
	}
	if got.Title != "Title a" || got.CoverArtURL == "" {
		t.Fatalf("display fields not carried forward: %+v", got.BookMetadata)
	}
	if got.BestSellersRank != 0 || len(got.History) != 2 || got.History[1].BSR != 0 {
		t.Fatalf("failed observation should record rank 0: %+v", got)
	}
}

func TestHistoricalWriteFailureKeepsOtherDocuments(t *testing.T) {
	now := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{now: now}
	dir := t.TempDir()

	seeded := NewHistoricalStore(filepath.Join(dir, "seeded.json"), 30, WithClock(clock.Now))
	if err := seeded.Write(seeded.Merge([]models.BookMetadata{observation("a", 1, now)})); err != nil {
		t.Fatalf("seed: %v", err)
	}

	blocked := filepath.Join(dir, "historical.json")
	blockTarget(t, blocked)
	failing := NewHistoricalStore(blocked, 30, WithClock(clock.Now))
	merged := failing.Merge([]models.BookMetadata{observation("b", 2, now)})

	err := failing.Write(merged)
	var writeErr WriteError
	if !errors.As(err, &writeErr) || writeErr.Op != "replace" {
		t.Fatalf("expected replace failure, got %v", err)
	}

	books, result := seeded.Load()
	if !result.OK() || len(books) != 1 || books[0].URL != "a" {
		t.Fatalf("seeded document changed: %+v (%s)", books, result.Status)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
