package parser

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-bsr-tracker/models"
)

const productPage = `<html><body>
<span id="productTitle">
    The   Long   Way Home
</span>
<span id="productSubtitle">Paperback – March 3, 2024</span>
<div id="bylineInfo">
  <span class="author"><a href="/author">Jane Doe</a> <span>(Author)</span></span>
</div>
<img id="landingImage" src="https://m.media-amazon.com/images/I/small.jpg" data-old-hires="https://m.media-amazon.com/images/I/large.jpg" />
<div id="detailBulletsWrapper_feature_div">
  <ul>
    <li><span>Publisher : Example Press</span></li>
    <li><span><span class="a-text-bold">Best Sellers Rank:</span> #12,345 in Books (See Top 100 in Books)
      <ul><li>#17 in Literary Fiction</li></ul></span></li>
  </ul>
</div>
</body></html>`

func mustDocument(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc.Selection
}

func TestExtractProduct(t *testing.T) {
	scrapedAt := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	book, err := ExtractProduct(mustDocument(t, productPage), "https://www.amazon.com/dp/B0TEST", scrapedAt)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}

	if book.Title != "The Long Way Home" {
		t.Errorf("title = %q", book.Title)
	}
	if book.Author != "Jane Doe" {
		t.Errorf("author = %q", book.Author)
	}
	if book.BestSellersRank != 12345 {
		t.Errorf("rank = %d, want 12345", book.BestSellersRank)
	}
	if book.CoverArtURL != "https://m.media-amazon.com/images/I/large.jpg" {
		t.Errorf("cover = %q", book.CoverArtURL)
	}
	if !book.IsValidPaperback {
		t.Errorf("expected paperback format")
	}
	if !book.ScrapedAt.Equal(scrapedAt) || book.URL != "https://www.amazon.com/dp/B0TEST" {
		t.Errorf("unexpected identity fields: %+v", book)
	}
}

func TestExtractProductWithoutRank(t *testing.T) {
	html := `<html><body><span id="productTitle">Unranked</span>
<div id="tmmSwatches"><li class="selected"><span>Kindle</span></li></div></body></html>`

	book, err := ExtractProduct(mustDocument(t, html), "https://www.amazon.com/dp/B0NONE", time.Now())
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if book.BestSellersRank != 0 {
		t.Errorf("rank = %d, want 0", book.BestSellersRank)
	}
	if book.IsValidPaperback {
		t.Errorf("kindle format should not be a paperback")
	}
}

func TestExtractProductRobotCheck(t *testing.T) {
	html := `<html><body><h4>Enter the characters you see below</h4></body></html>`
	_, err := ExtractProduct(mustDocument(t, html), "https://www.amazon.com/dp/B0CAPTCHA", time.Now())
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestParseRank(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{name: "with separators", input: "Best Sellers Rank: #1,234,567 in Books", expected: 1234567},
		{name: "no separator", input: "#42 in Kindle Store", expected: 42},
		{name: "dotted thousands", input: "#3.210 in Bücher", expected: 3210},
		{name: "first rank wins", input: "#900 in Books #3 in Poetry", expected: 900},
		{name: "no rank", input: "Publisher : Example Press", expected: 0},
		{name: "empty string", input: "", expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRank(tt.input); got != tt.expected {
				t.Errorf("ParseRank(%q) = %d, want %d", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeAuthor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "role suffix", input: "Jane Doe (Author)", expected: "Jane Doe"},
		{name: "author page link", input: "Visit Amazon's Jane Doe Page", expected: "Jane Doe"},
		{name: "whitespace", input: "  Jane \n Doe ,", expected: "Jane Doe"},
		{name: "surname page kept", input: "Jimmy Page", expected: "Jimmy Page"},
		{name: "empty string", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeAuthor(tt.input); got != tt.expected {
				t.Errorf("NormalizeAuthor(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateBook(t *testing.T) {
	tests := []struct {
		name    string
		book    *models.BookMetadata
		wantErr bool
	}{
		{
			name: "valid book",
			book: &models.BookMetadata{
				URL:             "https://www.amazon.com/dp/1",
				Title:           "Test Book",
				BestSellersRank: 10,
				ScrapedAt:       time.Now(),
			},
			wantErr: false,
		},
		{
			name: "failed scrape is still valid",
			book: &models.BookMetadata{
				URL:       "https://www.amazon.com/dp/1",
				ScrapedAt: time.Now(),
				Error:     "timeout",
			},
			wantErr: false,
		},
		{
			name:    "nil book",
			book:    nil,
			wantErr: true,
		},
		{
			name: "missing url",
			book: &models.BookMetadata{
				Title:     "Test Book",
				ScrapedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "relative url",
			book: &models.BookMetadata{
				URL:       "/dp/1",
				ScrapedAt: time.Now(),
			},
			wantErr: true,
		},
		{
			name: "negative rank",
			book: &models.BookMetadata{
				URL:             "https://www.amazon.com/dp/1",
				BestSellersRank: -1,
				ScrapedAt:       time.Now(),
			},
			wantErr: true,
		},
		{
			name: "missing scrape time",
			book: &models.BookMetadata{
				URL: "https://www.amazon.com/dp/1",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBook(tt.book)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBook() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
