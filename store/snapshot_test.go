package store

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aluiziolira/go-bsr-tracker/models"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func observation(url string, rank int, at time.Time) models.BookMetadata {
	return models.BookMetadata{
		URL:             url,
		Title:           "Title " + url,
		Author:          "Author " + url,
		BestSellersRank: rank,
		CoverArtURL:     "https://img.example.test/" + url + ".jpg",
		ScrapedAt:       at,
	}
}

func newSnapshotStore(t *testing.T, clock *fakeClock) *SnapshotStore {
	t.Helper()
	return NewSnapshotStore(filepath.Join(t.TempDir(), "history.json"), 14, WithClock(clock.Now))
}

func TestSnapshotReadMissingFile(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)

	doc, result := s.Load()
	if result.Status != ReadEmpty {
		t.Fatalf("status = %s, want empty", result.Status)
	}
	if doc.DailySnapshots == nil || len(doc.DailySnapshots) != 0 {
		t.Fatalf("expected empty snapshot list, got %v", doc.DailySnapshots)
	}
	if !doc.LastUpdated.Equal(clock.now) {
		t.Fatalf("lastUpdated = %s, want %s", doc.LastUpdated, clock.now)
	}
}

func TestSnapshotReadCorruptFile(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, result := s.Load(); result.Status != ReadCorrupt || result.Reason == nil {
		t.Fatalf("expected corrupt result with reason, got %+v", result)
	}
	if doc := s.Read(); len(doc.DailySnapshots) != 0 {
		t.Fatalf("corrupt read should degrade to empty, got %v", doc.DailySnapshots)
	}
}

func TestRecordDailySameDayReplaces(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)

	batch := []models.BookMetadata{observation("a", 100, clock.now), observation("b", 200, clock.now)}
	if _, err := s.RecordDaily(batch); err != nil {
		t.Fatalf("first record: %v", err)
	}

	clock.advance(6 * time.Hour)
	batch = []models.BookMetadata{observation("a", 90, clock.now)}
	if _, err := s.RecordDaily(batch); err != nil {
		t.Fatalf("second record: %v", err)
	}

	doc := s.Read()
	if len(doc.DailySnapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(doc.DailySnapshots))
	}
	snapshot := doc.DailySnapshots[0]
	if snapshot.Date != "2024-05-01" {
		t.Fatalf("date = %q", snapshot.Date)
	}
	if len(snapshot.Books) != 1 || snapshot.Books[0].BSR != 90 {
		t.Fatalf("same-day snapshot should be overwritten, got %+v", snapshot.Books)
	}
	if !doc.LastUpdated.Equal(clock.now) {
		t.Fatalf("lastUpdated = %s, want %s", doc.LastUpdated, clock.now)
	}
}

func TestRecordDailyIdempotent(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)
	batch := []models.BookMetadata{observation("a", 100, clock.now)}

	for i := 0; i < 2; i++ {
		if _, err := s.RecordDaily(batch); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	if got := len(s.Read().DailySnapshots); got != 1 {
		t.Fatalf("snapshots = %d, want 1", got)
	}
}

func TestRecordDailyRetention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 25, 9, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)

	seed := models.HistoryDocument{
		DailySnapshots: []models.DailySnapshot{
			{Date: "2024-01-20", Books: []models.SnapshotBook{{URL: "a", BSR: 5}}},
			{Date: "2024-01-11", Books: []models.SnapshotBook{{URL: "a", BSR: 7}}},
			{Date: "2024-01-10", Books: []models.SnapshotBook{{URL: "a", BSR: 8}}},
			{Date: "2023-12-31", Books: []models.SnapshotBook{{URL: "a", BSR: 9}}},
			{Date: "not-a-date", Books: []models.SnapshotBook{{URL: "a", BSR: 1}}},
		},
	}
	if err := s.Write(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc, err := s.RecordDaily([]models.BookMetadata{observation("a", 4, clock.now)})
	if err != nil {
		t.Fatalf("record: %v", err)
	}

	want := []string{"2024-01-11", "2024-01-20", "2024-01-25"}
	if len(doc.DailySnapshots) != len(want) {
		t.Fatalf("snapshots = %v, want dates %v", dates(doc.DailySnapshots), want)
	}
	for i, date := range want {
		if doc.DailySnapshots[i].Date != date {
			t.Fatalf("snapshots = %v, want dates %v", dates(doc.DailySnapshots), want)
		}
	}

	persisted := s.Read()
	if len(persisted.DailySnapshots) != len(want) {
		t.Fatalf("persisted snapshots = %v", dates(persisted.DailySnapshots))
	}
}

func TestRecordDailyAcrossYearBoundary(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)

	seed := models.HistoryDocument{
		DailySnapshots: []models.DailySnapshot{
			{Date: "2023-12-30"},
			{Date: "2023-12-15"},
		},
	}
	if err := s.Write(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	doc, err := s.RecordDaily(nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got := dates(doc.DailySnapshots); len(got) != 2 || got[0] != "2023-12-30" || got[1] != "2024-01-03" {
		t.Fatalf("dates = %v", got)
	}
}

func TestQuery(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)
	seed := models.HistoryDocument{
		DailySnapshots: []models.DailySnapshot{
			{Date: "2024-03-01"},
			{Date: "2024-03-03"},
			{Date: "2024-03-08"},
			{Date: "2024-03-10"},
		},
	}
	if err := s.Write(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tests := []struct {
		days int
		want int
	}{
		{days: 0, want: 4},
		{days: -3, want: 4},
		{days: 2, want: 2},
		{days: 7, want: 3},
		{days: 30, want: 4},
		{days: math.MaxInt, want: 4},
		{days: math.MaxInt32, want: 4},
	}
	for _, tt := range tests {
		if got := len(s.Query(tt.days).DailySnapshots); got != tt.want {
			t.Errorf("Query(%d) = %d snapshots, want %d", tt.days, got, tt.want)
		}
	}
}

func TestListAllBooks(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)
	seed := models.HistoryDocument{
		DailySnapshots: []models.DailySnapshot{
			{Date: "2024-03-08", Books: []models.SnapshotBook{{URL: "a", Title: "First A"}, {URL: "b", Title: "B"}}},
			{Date: "2024-03-09", Books: []models.SnapshotBook{{URL: "a", Title: "Renamed A"}, {URL: "c", Title: "C"}}},
		},
	}
	if err := s.Write(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	books := s.ListAllBooks()
	if len(books) != 3 {
		t.Fatalf("books = %+v, want 3", books)
	}
	if books[0].URL != "a" || books[0].Title != "First A" {
		t.Fatalf("first-seen fields should win, got %+v", books[0])
	}
	if books[2].URL != "c" {
		t.Fatalf("order of first appearance not kept: %+v", books)
	}
}

func TestBookSeriesMarksAbsentDays(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	s := newSnapshotStore(t, clock)
	seed := models.HistoryDocument{
		DailySnapshots: []models.DailySnapshot{
			{Date: "2024-03-08", Books: []models.SnapshotBook{{URL: "a", BSR: 300}}},
			{Date: "2024-03-09", Books: []models.SnapshotBook{{URL: "b", BSR: 50}}},
			{Date: "2024-03-10", Books: []models.SnapshotBook{{URL: "a", BSR: 0}}},
		},
	}
	if err := s.Write(seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	series := s.BookSeries("a", 0)
	if len(series) != 3 {
		t.Fatalf("points = %d, want 3", len(series))
	}
	if series[0].BSR == nil || *series[0].BSR != 300 {
		t.Fatalf("day 1 = %v, want 300", series[0].BSR)
	}
	if series[1].BSR != nil {
		t.Fatalf("day 2 should be absent, got %d", *series[1].BSR)
	}
	if series[2].BSR == nil || *series[2].BSR != 0 {
		t.Fatalf("day 3 should be a recorded zero rank, got %v", series[2].BSR)
	}

	if got := len(s.BookSeries("a", 1)); got != 2 {
		t.Fatalf("filtered points = %d, want 2", got)
	}
	if got := len(s.BookSeries("a", math.MaxInt)); got != 3 {
		t.Fatalf("huge window points = %d, want 3", got)
	}
}

func dates(snapshots []models.DailySnapshot) []string {
	out := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, s.Date)
	}
	return out
}
