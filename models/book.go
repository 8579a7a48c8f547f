// Package models defines data structures shared by the tracker.
package models

import "time"

// BookMetadata is one scrape observation of a product page.
// A BestSellersRank of 0 means the rank is unknown.
type BookMetadata struct {
	URL              string    `json:"url"`
	Title            string    `json:"title"`
	Author           string    `json:"author"`
	BestSellersRank  int       `json:"bestSellersRank"`
	CoverArtURL      string    `json:"coverArtUrl"`
	IsValidPaperback bool      `json:"isValidPaperback"`
	ScrapedAt        time.Time `json:"scrapedAt"`
	Error            string    `json:"error,omitempty"`
}

// Failed reports whether the observation carries a scrape error.
func (b BookMetadata) Failed() bool {
	return b.Error != ""
}

// HistoricalDataPoint is a single recorded rank.
type HistoricalDataPoint struct {
	Date time.Time `json:"date"`
	BSR  int       `json:"bsr"`
}

// BookWithHistory is the latest observation of a book plus its rank history
// in append order.
type BookWithHistory struct {
	BookMetadata
	History []HistoricalDataPoint `json:"history"`
}

// SnapshotBook is the per-book summary kept in a daily snapshot.
type SnapshotBook struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	BSR         int    `json:"bsr"`
	CoverArtURL string `json:"coverArtUrl"`
}

// DailySnapshot holds every tracked book for one calendar date (YYYY-MM-DD).
type DailySnapshot struct {
	Date  string         `json:"date"`
	Books []SnapshotBook `json:"books"`
}

// HistoryDocument is the persisted root of history.json.
type HistoryDocument struct {
	DailySnapshots []DailySnapshot `json:"dailySnapshots"`
	LastUpdated    time.Time       `json:"lastUpdated"`
}

// BookIdentity identifies a book seen in any retained snapshot.
type BookIdentity struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	CoverArtURL string `json:"coverArtUrl"`
}

// SeriesPoint is one day of a book's rank series. A nil BSR means the book
// was not recorded that day.
type SeriesPoint struct {
	Date string `json:"date"`
	BSR  *int   `json:"bsr"`
}

// OutputData is the leaderboard view persisted to output.json.
type OutputData struct {
	Books       []BookWithHistory `json:"books"`
	GeneratedAt time.Time         `json:"generatedAt"`
	TotalBooks  int               `json:"totalBooks"`
	ValidBooks  int               `json:"validBooks"`
	FailedBooks int               `json:"failedBooks"`
}

// SnapshotFromMetadata projects an observation onto its snapshot summary.
func SnapshotFromMetadata(b BookMetadata) SnapshotBook {
	return SnapshotBook{
		URL:         b.URL,
		Title:       b.Title,
		Author:      b.Author,
		BSR:         b.BestSellersRank,
		CoverArtURL: b.CoverArtURL,
	}
}

// ScraperResult holds the overall result of a scraping operation.
type ScraperResult struct {
	Books        []*BookMetadata
	StartTime    time.Time
	EndTime      time.Time
	TotalCount   int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	RetryCount   int
	RequestCount int
}
