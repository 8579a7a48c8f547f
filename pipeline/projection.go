package pipeline

import (
	"sort"
	"time"

	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/store"
)

// SortByRank orders books by ascending rank in place. Unranked books (rank 0)
// always come last; ties keep their input order.
func SortByRank(books []models.BookWithHistory) {
	sort.SliceStable(books, func(i, j int) bool {
		a, b := books[i].BestSellersRank, books[j].BestSellersRank
		if a == 0 || b == 0 {
			return a != 0 && b == 0
		}
		return a < b
	})
}

// Project builds the leaderboard view of books.
func Project(books []models.BookWithHistory, generatedAt time.Time) models.OutputData {
	sorted := make([]models.BookWithHistory, len(books))
	copy(sorted, books)
	SortByRank(sorted)

	out := models.OutputData{
		Books:       sorted,
		GeneratedAt: generatedAt,
		TotalBooks:  len(sorted),
	}
	for _, book := range sorted {
		if book.Failed() {
			out.FailedBooks++
		} else {
			out.ValidBooks++
		}
	}
	return out
}

// Projector serves the current leaderboard from the history store.
type Projector struct {
	historical *store.HistoricalStore
	now        func() time.Time
}

// NewProjector returns a projector reading from historical. A nil now uses
// time.Now.
func NewProjector(historical *store.HistoricalStore, now func() time.Time) *Projector {
	if now == nil {
		now = time.Now
	}
	return &Projector{historical: historical, now: now}
}

// CurrentView reads the stored books and projects them.
func (p *Projector) CurrentView() models.OutputData {
	return Project(p.historical.Read(), p.now())
}
