package parser

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-bsr-tracker/models"
)

// ErrProductNotFound is returned when a page has no product block, which is
// what Amazon serves for captcha and robot-check pages.
var ErrProductNotFound = errors.New("parser: product details not found")

var (
	rankPattern = regexp.MustCompile(`#\s*([\d,.]+)\s+in\s+`)
	whitespace  = regexp.MustCompile(`\s+`)
	authorRole  = regexp.MustCompile(`\s*\((Author|Editor|Illustrator|Contributor|Foreword|Narrator|Translator)[^)]*\)\s*`)
)

var (
	titleSelectors = []string{"#productTitle", "#ebooksProductTitle", "span#title"}
	coverSelectors = []string{"#landingImage", "#imgBlkFront", "#ebooksImgBlkFront", "#main-image"}
	rankSelectors  = []string{
		"#detailBulletsWrapper_feature_div",
		"#detailBullets_feature_div",
		"#productDetails_detailBullets_sections1",
		"#SalesRank",
	}
	formatSelectors = []string{
		"#productSubtitle",
		"#tmmSwatches .selected",
		"#tmmSwatches .a-button-selected",
		"#formats .a-button-selected",
	}
)

// ExtractProduct reads the book fields from a product page document.
func ExtractProduct(doc *goquery.Selection, pageURL string, scrapedAt time.Time) (*models.BookMetadata, error) {
	if doc == nil {
		return nil, ErrProductNotFound
	}

	title := firstText(doc, titleSelectors)
	if title == "" {
		return nil, ErrProductNotFound
	}

	return &models.BookMetadata{
		URL:              pageURL,
		Title:            NormalizeTitle(title),
		Author:           extractAuthor(doc),
		BestSellersRank:  extractRank(doc),
		CoverArtURL:      extractCover(doc),
		IsValidPaperback: IsPaperback(firstText(doc, formatSelectors)),
		ScrapedAt:        scrapedAt,
	}, nil
}

// ParseRank returns the first "#N in <category>" rank in text, or 0 when
// none is present.
func ParseRank(text string) int {
	match := rankPattern.FindStringSubmatch(text)
	if match == nil {
		return 0
	}
	digits := strings.NewReplacer(",", "", ".", "").Replace(match[1])
	rank, err := strconv.Atoi(digits)
	if err != nil || rank < 0 {
		return 0
	}
	return rank
}

// IsPaperback reports whether the selected format label names a paperback.
func IsPaperback(format string) bool {
	return strings.Contains(strings.ToLower(format), "paperback")
}

// NormalizeTitle collapses runs of whitespace.
func NormalizeTitle(title string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(title, " "))
}

// NormalizeAuthor strips contributor roles and byline phrasing.
func NormalizeAuthor(author string) string {
	author = NormalizeTitle(author)
	author = authorRole.ReplaceAllString(author, " ")
	if lower := strings.ToLower(author); strings.HasPrefix(lower, "visit amazon's ") {
		author = author[len("visit amazon's "):]
		if strings.HasSuffix(strings.ToLower(author), " page") {
			author = author[:len(author)-len(" page")]
		}
	}
	author = strings.Trim(author, " ,")
	return NormalizeTitle(author)
}

// ValidateBook ensures an observation can be merged.
func ValidateBook(b *models.BookMetadata) error {
	if b == nil {
		return fmt.Errorf("book is nil")
	}
	if strings.TrimSpace(b.URL) == "" {
		return fmt.Errorf("book missing url")
	}
	parsed, err := url.Parse(b.URL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("book url %q is not absolute", b.URL)
	}
	if b.BestSellersRank < 0 {
		return fmt.Errorf("book rank %d is negative for %s", b.BestSellersRank, b.URL)
	}
	if b.ScrapedAt.IsZero() {
		return fmt.Errorf("book missing scrape time for %s", b.URL)
	}
	return nil
}

func extractAuthor(doc *goquery.Selection) string {
	authors := doc.Find("#bylineInfo .author a")
	if authors.Length() == 0 {
		authors = doc.Find("#bylineInfo a")
	}
	author := strings.TrimSpace(authors.First().Text())
	if author == "" {
		author = strings.TrimSpace(doc.Find("#bylineInfo").First().Text())
		author = strings.TrimPrefix(author, "by ")
	}
	return NormalizeAuthor(author)
}

func extractRank(doc *goquery.Selection) int {
	for _, selector := range rankSelectors {
		var rank int
		doc.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := s.Text()
			if idx := strings.Index(text, "Best Sellers Rank"); idx >= 0 {
				text = text[idx:]
			}
			rank = ParseRank(text)
			return rank == 0
		})
		if rank > 0 {
			return rank
		}
	}
	return 0
}

func extractCover(doc *goquery.Selection) string {
	for _, selector := range coverSelectors {
		img := doc.Find(selector).First()
		if img.Length() == 0 {
			continue
		}
		for _, attr := range []string{"data-old-hires", "src"} {
			if value := strings.TrimSpace(img.AttrOr(attr, "")); value != "" && !strings.HasPrefix(value, "data:") {
				return value
			}
		}
	}
	return ""
}

func firstText(doc *goquery.Selection, selectors []string) string {
	for _, selector := range selectors {
		if text := strings.TrimSpace(doc.Find(selector).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
