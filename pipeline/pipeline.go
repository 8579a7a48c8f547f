// Package pipeline validates scraped observations and publishes them to the
// tracker's documents.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/aluiziolira/go-bsr-tracker/config"
	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/parser"
	"github.com/aluiziolira/go-bsr-tracker/store"
)

var (
	// ErrPipelineClosed is returned when Process is called after Publish.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrNothingToPublish is returned when no observation survived validation.
	ErrNothingToPublish = errors.New("pipeline: no observations to publish")
)

// OutputWriter defines the interface for leaderboard exports.
type OutputWriter interface {
	Write(books []models.BookWithHistory) error
	Close() error
	Validate() error
}

// Stores groups the documents a cycle writes.
type Stores struct {
	Historical *store.HistoricalStore
	Snapshots  *store.SnapshotStore
	Metadata   *store.Document[[]models.BookMetadata]
	Output     *store.Document[models.OutputData]
}

// NewStores opens every document under cfg.DataDir.
func NewStores(cfg *config.Config, opts ...store.Option) Stores {
	return Stores{
		Historical: store.NewHistoricalStore(cfg.HistoricalPath(), cfg.HistoryRetentionDays, opts...),
		Snapshots:  store.NewSnapshotStore(cfg.HistoryPath(), cfg.SnapshotRetentionDays, opts...),
		Metadata:   store.NewDocument[[]models.BookMetadata](cfg.MetadataPath(), opts...),
		Output:     store.NewDocument[models.OutputData](cfg.OutputPath(), opts...),
	}
}

// Pipeline collects observations for one cycle and publishes them.
type Pipeline struct {
	stores    Stores
	projector *Projector
	exports   []OutputWriter
	metrics   *Metrics
	now       func() time.Time

	seen *lru.Cache[string, struct{}]

	mu         sync.Mutex // guards books/closed/validation/processed
	books      []models.BookMetadata
	closed     bool
	validation map[string]int
	processed  int64
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithExports mirrors every published leaderboard to writers.
func WithExports(writers ...OutputWriter) Option {
	return func(p *Pipeline) {
		p.exports = append(p.exports, writers...)
	}
}

// WithMetrics records cycle metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithClock overrides the clock used for the leaderboard timestamp.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline builds a pipeline that deduplicates up to cfg.DedupeMaxSize URLs.
func NewPipeline(cfg *config.Config, stores Stores, opts ...Option) (*Pipeline, error) {
	seen, err := lru.New[string, struct{}](cfg.DedupeMaxSize)
	if err != nil {
		return nil, fmt.Errorf("create dedupe cache: %w", err)
	}

	p := &Pipeline{
		stores:     stores,
		now:        time.Now,
		seen:       seen,
		validation: make(map[string]int),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.projector = NewProjector(stores.Historical, p.now)
	return p, nil
}

// Process validates, normalises and deduplicates books. Accepted books keep
// the order in which they were first processed.
func (p *Pipeline) Process(books ...*models.BookMetadata) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPipelineClosed
	}

	for _, book := range books {
		if book == nil {
			continue
		}
		if err := parser.ValidateBook(book); err != nil {
			slog.Debug("rejecting observation", slog.Any("error", err))
			p.addValidation("invalid_record")
			continue
		}
		if p.seen.Contains(book.URL) {
			p.addValidation("duplicate_url")
			continue
		}
		p.seen.Add(book.URL, struct{}{})

		prepared := *book
		prepared.Title = parser.NormalizeTitle(prepared.Title)
		prepared.Author = parser.NormalizeAuthor(prepared.Author)
		p.books = append(p.books, prepared)
		p.processed++
	}
	return nil
}

// Books returns a copy of the accepted observations.
func (p *Pipeline) Books() []models.BookMetadata {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.BookMetadata, len(p.books))
	copy(out, p.books)
	return out
}

// Publish writes the accepted observations: metadata.json, the merged
// historical.json, today's snapshot in history.json and finally output.json.
// The first failing write aborts the cycle. Process is rejected afterwards.
func (p *Pipeline) Publish(ctx context.Context) (models.OutputData, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return models.OutputData{}, ErrPipelineClosed
	}
	p.closed = true
	books := make([]models.BookMetadata, len(p.books))
	copy(books, p.books)
	p.mu.Unlock()

	if len(books) == 0 {
		p.metrics.observePublish("empty", 0)
		return models.OutputData{}, ErrNothingToPublish
	}

	start := time.Now()
	out, err := p.publish(ctx, books)
	result := "success"
	if err != nil {
		result = "failure"
	}
	p.metrics.observePublish(result, time.Since(start).Seconds())
	return out, err
}

func (p *Pipeline) publish(ctx context.Context, books []models.BookMetadata) (models.OutputData, error) {
	if err := ctx.Err(); err != nil {
		return models.OutputData{}, err
	}
	if err := p.stores.Metadata.Write(books); err != nil {
		return models.OutputData{}, fmt.Errorf("write metadata: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return models.OutputData{}, err
	}
	merged := p.stores.Historical.Merge(books)
	if err := p.stores.Historical.Write(merged); err != nil {
		return models.OutputData{}, fmt.Errorf("write historical: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return models.OutputData{}, err
	}
	if _, err := p.stores.Snapshots.RecordDaily(books); err != nil {
		return models.OutputData{}, fmt.Errorf("record daily snapshot: %w", err)
	}

	out := Project(merged, p.now())
	if err := p.stores.Output.Write(out); err != nil {
		return models.OutputData{}, fmt.Errorf("write output: %w", err)
	}
	p.metrics.setLeaderboard(out.TotalBooks, out.FailedBooks)

	for _, w := range p.exports {
		if err := w.Write(out.Books); err != nil {
			return out, fmt.Errorf("export leaderboard: %w", err)
		}
	}

	slog.Info("published leaderboard",
		slog.Int("books", out.TotalBooks),
		slog.Int("valid", out.ValidBooks),
		slog.Int("failed", out.FailedBooks),
	)
	return out, nil
}

// CurrentView returns the leaderboard projected from the stored history.
func (p *Pipeline) CurrentView() models.OutputData {
	return p.projector.CurrentView()
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	copyValidation := make(map[string]int, len(p.validation))
	for k, v := range p.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"processed_books":   p.processed,
		"validation_errors": copyValidation,
	}
}

func (p *Pipeline) addValidation(kind string) {
	p.validation[kind]++
	p.metrics.incValidation(kind)
}
