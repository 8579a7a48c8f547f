package store

import (
	"log/slog"
	"sort"
	"time"

	"github.com/aluiziolira/go-bsr-tracker/models"
)

// DateLayout is the calendar-date format used for snapshot keys.
const DateLayout = "2006-01-02"

// maxQueryDays bounds a lookback window so the cutoff date stays representable.
const maxQueryDays = 100 * 366

// SnapshotStore keeps one rank rollup per calendar day in history.json.
type SnapshotStore struct {
	file          jsonFile
	retentionDays int
	now           func() time.Time
}

// NewSnapshotStore returns a store at path that keeps retentionDays days of
// snapshots.
func NewSnapshotStore(path string, retentionDays int, opts ...Option) *SnapshotStore {
	o := newOptions(opts)
	return &SnapshotStore{
		file:          newJSONFile(path),
		retentionDays: retentionDays,
		now:           o.now,
	}
}

// Path returns the document location.
func (s *SnapshotStore) Path() string {
	return s.file.path
}

// Load decodes history.json. Non-OK results come with an empty document.
func (s *SnapshotStore) Load() (models.HistoryDocument, ReadResult) {
	var doc models.HistoryDocument
	result := s.file.load(&doc)
	if !result.OK() {
		return s.emptyDocument(), result
	}
	if doc.DailySnapshots == nil {
		doc.DailySnapshots = []models.DailySnapshot{}
	}
	return doc, result
}

// Read returns the stored document, or an empty one when the file is missing
// or unreadable.
func (s *SnapshotStore) Read() models.HistoryDocument {
	doc, _ := s.Load()
	return doc
}

// Write atomically replaces history.json.
func (s *SnapshotStore) Write(doc models.HistoryDocument) error {
	if doc.DailySnapshots == nil {
		doc.DailySnapshots = []models.DailySnapshot{}
	}
	return s.file.save(doc)
}

// RecordDaily stores today's snapshot of observations, replacing any snapshot
// already recorded today, then applies retention and writes the document.
func (s *SnapshotStore) RecordDaily(observations []models.BookMetadata) (models.HistoryDocument, error) {
	doc := s.Read()
	now := s.now()
	today := calendarDate(now)
	key := today.Format(DateLayout)

	books := make([]models.SnapshotBook, 0, len(observations))
	for _, obs := range observations {
		books = append(books, models.SnapshotFromMetadata(obs))
	}
	snapshot := models.DailySnapshot{Date: key, Books: books}

	replaced := false
	for i := range doc.DailySnapshots {
		if doc.DailySnapshots[i].Date == key {
			doc.DailySnapshots[i] = snapshot
			replaced = true
			break
		}
	}
	if !replaced {
		doc.DailySnapshots = append(doc.DailySnapshots, snapshot)
	}

	cutoff := today.AddDate(0, 0, -s.retentionDays)
	doc.DailySnapshots = filterSince(doc.DailySnapshots, cutoff)
	doc.LastUpdated = now

	if err := s.Write(doc); err != nil {
		return models.HistoryDocument{}, err
	}
	return doc, nil
}

// Query returns the document limited to snapshots dated on or after
// today minus days. days <= 0 disables the filter.
func (s *SnapshotStore) Query(days int) models.HistoryDocument {
	doc := s.Read()
	if days <= 0 {
		return doc
	}
	if days > maxQueryDays {
		days = maxQueryDays
	}
	cutoff := calendarDate(s.now()).AddDate(0, 0, -days)
	doc.DailySnapshots = filterSince(doc.DailySnapshots, cutoff)
	return doc
}

// ListAllBooks returns every book in the retained snapshots, first-seen
// fields winning, in order of first appearance.
func (s *SnapshotStore) ListAllBooks() []models.BookIdentity {
	doc := s.Read()
	seen := make(map[string]struct{})
	books := []models.BookIdentity{}
	for _, snapshot := range doc.DailySnapshots {
		for _, b := range snapshot.Books {
			if _, ok := seen[b.URL]; ok {
				continue
			}
			seen[b.URL] = struct{}{}
			books = append(books, models.BookIdentity{
				URL:         b.URL,
				Title:       b.Title,
				Author:      b.Author,
				CoverArtURL: b.CoverArtURL,
			})
		}
	}
	return books
}

// BookSeries returns one point per snapshot in the Query(days) range. Days
// on which the book was not recorded have a nil rank.
func (s *SnapshotStore) BookSeries(url string, days int) []models.SeriesPoint {
	doc := s.Query(days)
	series := make([]models.SeriesPoint, 0, len(doc.DailySnapshots))
	for _, snapshot := range doc.DailySnapshots {
		point := models.SeriesPoint{Date: snapshot.Date}
		for _, b := range snapshot.Books {
			if b.URL == url {
				rank := b.BSR
				point.BSR = &rank
				break
			}
		}
		series = append(series, point)
	}
	return series
}

func (s *SnapshotStore) emptyDocument() models.HistoryDocument {
	return models.HistoryDocument{
		DailySnapshots: []models.DailySnapshot{},
		LastUpdated:    s.now(),
	}
}

// filterSince keeps snapshots dated on or after cutoff, sorted ascending.
// Snapshots with an unparseable date are dropped.
func filterSince(snapshots []models.DailySnapshot, cutoff time.Time) []models.DailySnapshot {
	type dated struct {
		day      time.Time
		snapshot models.DailySnapshot
	}

	kept := make([]dated, 0, len(snapshots))
	for _, snapshot := range snapshots {
		day, err := time.Parse(DateLayout, snapshot.Date)
		if err != nil {
			slog.Warn("dropping snapshot with invalid date",
				slog.String("date", snapshot.Date),
				slog.Any("error", err),
			)
			continue
		}
		if day.Before(cutoff) {
			continue
		}
		kept = append(kept, dated{day: day, snapshot: snapshot})
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].day.Before(kept[j].day)
	})

	out := make([]models.DailySnapshot, 0, len(kept))
	for _, d := range kept {
		out = append(out, d.snapshot)
	}
	return out
}

// calendarDate truncates t to midnight UTC of its UTC date.
func calendarDate(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
