package store

import (
	"time"

	"github.com/aluiziolira/go-bsr-tracker/models"
)

// HistoricalStore keeps each tracked book with its rank history in
// historical.json.
type HistoricalStore struct {
	file      jsonFile
	retention time.Duration
	now       func() time.Time
}

// NewHistoricalStore returns a store at path that prunes history points older
// than retentionDays at merge time.
func NewHistoricalStore(path string, retentionDays int, opts ...Option) *HistoricalStore {
	o := newOptions(opts)
	return &HistoricalStore{
		file:      newJSONFile(path),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		now:       o.now,
	}
}

// Path returns the document location.
func (s *HistoricalStore) Path() string {
	return s.file.path
}

// Load decodes historical.json.
func (s *HistoricalStore) Load() ([]models.BookWithHistory, ReadResult) {
	var books []models.BookWithHistory
	result := s.file.load(&books)
	if !result.OK() || books == nil {
		return []models.BookWithHistory{}, result
	}
	return books, result
}

// Read returns the stored books, or none when the file is missing or
// unreadable.
func (s *HistoricalStore) Read() []models.BookWithHistory {
	books, _ := s.Load()
	return books
}

// Write atomically replaces historical.json.
func (s *HistoricalStore) Write(books []models.BookWithHistory) error {
	if books == nil {
		books = []models.BookWithHistory{}
	}
	return s.file.save(books)
}

// Merge folds observations into the stored histories and returns the new
// list in observation order. Books missing from observations are left out.
// Merge does not write.
func (s *HistoricalStore) Merge(observations []models.BookMetadata) []models.BookWithHistory {
	existing := make(map[string]models.BookWithHistory)
	for _, book := range s.Read() {
		existing[book.URL] = book
	}

	cutoff := s.now().Add(-s.retention)
	merged := make([]models.BookWithHistory, 0, len(observations))
	position := make(map[string]int, len(observations))

	for _, obs := range observations {
		point := models.HistoricalDataPoint{Date: obs.ScrapedAt, BSR: obs.BestSellersRank}

		if idx, ok := position[obs.URL]; ok {
			prev := merged[idx]
			merged[idx] = models.BookWithHistory{
				BookMetadata: carryForward(obs, prev.BookMetadata),
				History:      prune(append(prev.History, point), cutoff),
			}
			continue
		}

		var record models.BookWithHistory
		if prev, ok := existing[obs.URL]; ok {
			history := make([]models.HistoricalDataPoint, 0, len(prev.History)+1)
			history = append(history, prev.History...)
			record = models.BookWithHistory{
				BookMetadata: carryForward(obs, prev.BookMetadata),
				History:      prune(append(history, point), cutoff),
			}
		} else {
			record = models.BookWithHistory{
				BookMetadata: obs,
				History:      []models.HistoricalDataPoint{point},
			}
		}

		position[obs.URL] = len(merged)
		merged = append(merged, record)
	}

	return merged
}

// carryForward keeps the previous display fields when a failed scrape left
// them blank. The error itself is never altered.
func carryForward(obs, prev models.BookMetadata) models.BookMetadata {
	if !obs.Failed() {
		return obs
	}
	if obs.Title == "" {
		obs.Title = prev.Title
	}
	if obs.Author == "" {
		obs.Author = prev.Author
	}
	if obs.CoverArtURL == "" {
		obs.CoverArtURL = prev.CoverArtURL
	}
	return obs
}

// prune drops points recorded before cutoff, keeping append order.
func prune(history []models.HistoricalDataPoint, cutoff time.Time) []models.HistoricalDataPoint {
	kept := history[:0]
	for _, point := range history {
		if point.Date.Before(cutoff) {
			continue
		}
		kept = append(kept, point)
	}
	return kept
}
