package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-bsr-tracker/config"
	"github.com/aluiziolira/go-bsr-tracker/models"
	"github.com/aluiziolira/go-bsr-tracker/parser"
)

const bookURLKey = "book_url"

// Scraper wraps the colly collector and retry logic for product pages.
type Scraper struct {
	cfg       *config.Config
	collector *colly.Collector
	retry     *retryManager
	Metrics   *Metrics
	now       func() time.Time

	requestCount int64
	errorCount   int64

	mu           sync.Mutex
	results      map[string]*models.BookMetadata
	failedURLs   []string
	errorsByType map[string]int

	handlersOnce sync.Once
}

// Option customises a Scraper.
type Option func(*Scraper)

// WithMetrics records into m instead of a fresh registry, so successive
// scrapers can share one /metrics endpoint.
func WithMetrics(m *Metrics) Option {
	return func(s *Scraper) {
		if m != nil {
			s.Metrics = m
		}
	}
}

// NewScraper builds a scraper for the configured book URLs.
func NewScraper(cfg *config.Config, opts ...Option) (*Scraper, error) {
	if len(cfg.BookURLs) == 0 {
		return nil, fmt.Errorf("no book URLs configured")
	}

	domains := make([]string, 0, len(cfg.BookURLs))
	seen := make(map[string]struct{})
	for _, raw := range cfg.BookURLs {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse book url: %w", err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("book url %q must include a host", raw)
		}
		if _, ok := seen[parsed.Hostname()]; !ok {
			seen[parsed.Hostname()] = struct{}{}
			domains = append(domains, parsed.Hostname())
		}
	}

	collector := colly.NewCollector(
		colly.Async(true),
		colly.AllowedDomains(domains...),
		colly.UserAgent(cfg.UserAgent),
	)

	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = !cfg.RespectRobotsTxt
	collector.AllowURLRevisit = true
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: cfg.Parallelism,
		Delay:       cfg.Delay,
		RandomDelay: cfg.RandomDelay,
	}); err != nil {
		return nil, fmt.Errorf("configure rate limits: %w", err)
	}

	s := &Scraper{
		cfg:          cfg,
		collector:    collector,
		Metrics:      NewMetrics(),
		now:          time.Now,
		results:      make(map[string]*models.BookMetadata),
		errorsByType: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retry = newRetryManager(s.visit, cfg, s.Metrics)
	return s, nil
}

// Run scrapes every configured book once. Each URL yields exactly one
// observation, in configured order; pages that could not be scraped carry
// an error and rank 0.
func (s *Scraper) Run(ctx context.Context) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.retry.SetContext(ctx)
	s.configureHandlers()

	start := s.now()
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			s.retry.Stop()
		case <-done:
		}
	}()

	for _, bookURL := range s.cfg.BookURLs {
		if ctx.Err() != nil {
			break
		}
		if err := s.visit(bookURL); err != nil {
			s.recordFailure(bookURL, fmt.Errorf("visit: %w", err))
		}
	}

	for {
		s.collector.Wait()
		if !s.retry.Drain(ctx) {
			break
		}
	}
	s.retry.Stop()

	books := s.orderedResults(ctx)
	end := s.now()
	failed := 0
	for _, book := range books {
		if book.Failed() {
			failed++
		}
	}
	s.Metrics.ObserveRun(start, end, len(books)-failed, failed)

	result := &models.ScraperResult{
		Books:        books,
		StartTime:    start,
		EndTime:      end,
		TotalCount:   len(books),
		ErrorCount:   int(atomic.LoadInt64(&s.errorCount)),
		FailedURLs:   s.snapshotFailedURLs(),
		ErrorsByType: s.snapshotErrors(),
		RetryCount:   s.retry.TotalRetries(),
		RequestCount: int(atomic.LoadInt64(&s.requestCount)),
	}
	return result, nil
}

func (s *Scraper) visit(bookURL string) error {
	reqCtx := colly.NewContext()
	reqCtx.Put(bookURLKey, bookURL)
	return s.collector.Request(http.MethodGet, bookURL, nil, reqCtx, nil)
}

func (s *Scraper) configureHandlers() {
	s.handlersOnce.Do(func() {
		s.collector.OnRequest(func(r *colly.Request) {
			r.Ctx.Put("start", time.Now())
			atomic.AddInt64(&s.requestCount, 1)
			if s.Metrics != nil {
				s.Metrics.IncRequest("started")
			}
			slog.Debug("fetching product page", slog.String("url", r.URL.String()))
		})

		s.collector.OnResponse(func(r *colly.Response) {
			if s.Metrics != nil {
				if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
					s.Metrics.ObserveDuration(time.Since(start))
				}
			}
		})

		s.collector.OnError(func(r *colly.Response, err error) {
			atomic.AddInt64(&s.errorCount, 1)
			statusCode := 0
			if r != nil {
				statusCode = r.StatusCode
			}
			classified := classifyError(err, statusCode)
			category := errorTypeLabel(classified)

			s.mu.Lock()
			s.errorsByType[category]++
			s.mu.Unlock()

			bookURL := requestBookURL(r)
			slog.Error("request error",
				slog.String("url", bookURL),
				slog.String("category", category),
				slog.Any("error", err),
			)
			if s.Metrics != nil {
				s.Metrics.IncError(category)
			}

			if bookURL == "" || s.retry.Schedule(bookURL) {
				return
			}
			s.recordFailure(bookURL, classified)
		})

		s.collector.OnHTML("html", func(e *colly.HTMLElement) {
			bookURL := e.Request.Ctx.Get(bookURLKey)
			if bookURL == "" {
				bookURL = e.Request.URL.String()
			}

			book, err := parser.ExtractProduct(e.DOM, bookURL, s.now())
			if err != nil {
				category := errorTypeLabel(err)
				s.mu.Lock()
				s.errorsByType[category]++
				s.mu.Unlock()
				if s.Metrics != nil {
					s.Metrics.IncError(category)
				}
				slog.Warn("product page not parsed",
					slog.String("url", bookURL),
					slog.String("category", category),
					slog.Any("error", err),
				)
				if s.retry.Schedule(bookURL) {
					return
				}
				s.recordFailure(bookURL, err)
				return
			}

			if s.Metrics != nil {
				s.Metrics.IncPages()
			}
			s.mu.Lock()
			s.results[bookURL] = book
			s.mu.Unlock()
		})
	})
}

func requestBookURL(r *colly.Response) string {
	if r == nil || r.Request == nil {
		return ""
	}
	if r.Ctx != nil {
		if bookURL := r.Ctx.Get(bookURLKey); bookURL != "" {
			return bookURL
		}
	}
	if r.Request.URL != nil {
		return r.Request.URL.String()
	}
	return ""
}

// recordFailure stores an error observation unless a page already succeeded.
func (s *Scraper) recordFailure(bookURL string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.results[bookURL]; ok && !existing.Failed() {
		return
	}
	s.failedURLs = append(s.failedURLs, bookURL)
	s.results[bookURL] = &models.BookMetadata{
		URL:       bookURL,
		ScrapedAt: s.now(),
		Error:     err.Error(),
	}
}

func (s *Scraper) orderedResults(ctx context.Context) []*models.BookMetadata {
	out := make([]*models.BookMetadata, 0, len(s.cfg.BookURLs))
	for _, bookURL := range s.cfg.BookURLs {
		s.mu.Lock()
		book, ok := s.results[bookURL]
		s.mu.Unlock()
		if !ok {
			reason := errors.New("not scraped")
			if ctx.Err() != nil {
				reason = fmt.Errorf("not scraped: %w", ctx.Err())
			}
			s.recordFailure(bookURL, reason)
			s.mu.Lock()
			book = s.results[bookURL]
			s.mu.Unlock()
		}
		out = append(out, book)
	}
	return out
}

func (s *Scraper) snapshotFailedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.failedURLs))
	copy(out, s.failedURLs)
	return out
}

func (s *Scraper) snapshotErrors() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.errorsByType))
	for k, v := range s.errorsByType {
		out[k] = v
	}
	return out
}

func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}

	if statusCode != 0 {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch statusCode {
		case http.StatusForbidden:
			return ErrForbidden{Err: wrapped}
		case http.StatusNotFound:
			return ErrNotFound{Err: wrapped}
		case http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case http.StatusServiceUnavailable:
			return ErrUnavailable{Err: wrapped}
		}
	}

	if err == nil {
		return fmt.Errorf("http status %d", statusCode)
	}
	return err
}

type retryManager struct {
	visit   func(string) error
	cfg     *config.Config
	metrics *Metrics
	ctx     context.Context

	mu           sync.Mutex
	attempts     map[string]int
	timers       map[string]*time.Timer
	waiting      int
	idle         chan struct{}
	totalRetries int
	stopped      bool
}

func newRetryManager(visit func(string) error, cfg *config.Config, metrics *Metrics) *retryManager {
	idle := make(chan struct{})
	close(idle)
	return &retryManager{
		visit:    visit,
		cfg:      cfg,
		attempts: make(map[string]int),
		timers:   make(map[string]*time.Timer),
		idle:     idle,
		metrics:  metrics,
		ctx:      context.Background(),
	}
}

// Schedule queues another attempt for url and reports whether it did.
func (rm *retryManager) Schedule(url string) bool {
	if rm.cfg.MaxRetries == 0 {
		return false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return false
	}
	if rm.ctx != nil && rm.ctx.Err() != nil {
		return false
	}

	attempt := rm.attempts[url]
	if attempt >= rm.cfg.MaxRetries {
		return false
	}

	attempt++
	rm.attempts[url] = attempt
	rm.totalRetries++
	if rm.metrics != nil {
		rm.metrics.IncRetries()
	}

	delay := rm.backoff(attempt)
	rm.resetTimerLocked(url)
	if rm.waiting == 0 {
		rm.idle = make(chan struct{})
	}
	rm.waiting++
	rm.timers[url] = time.AfterFunc(delay, func() {
		rm.fireRetry(url)
	})
	return true
}

func (rm *retryManager) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := rm.cfg.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if max := rm.cfg.RetryBackoffMax; max > 0 && delay > max {
		delay = max
	}
	return delay
}

func (rm *retryManager) resetTimerLocked(url string) {
	if timer, ok := rm.timers[url]; ok {
		if timer.Stop() {
			rm.releaseLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) fireRetry(url string) {
	rm.mu.Lock()
	delete(rm.timers, url)
	stopped := rm.stopped
	ctx := rm.ctx
	rm.mu.Unlock()

	// Release only after the visit is queued with the collector.
	if !stopped && (ctx == nil || ctx.Err() == nil) {
		if err := rm.visit(url); err != nil {
			slog.Debug("retry visit failed", slog.String("url", url), slog.Any("error", err))
		}
	}

	rm.mu.Lock()
	rm.releaseLocked()
	rm.mu.Unlock()
}

func (rm *retryManager) releaseLocked() {
	rm.waiting--
	if rm.waiting == 0 {
		close(rm.idle)
	}
}

// Drain blocks until every scheduled retry has been issued and reports
// whether any were pending.
func (rm *retryManager) Drain(ctx context.Context) bool {
	rm.mu.Lock()
	if rm.waiting == 0 {
		rm.mu.Unlock()
		return false
	}
	idle := rm.idle
	rm.mu.Unlock()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		rm.Stop()
		<-idle
		return false
	}
}

func (rm *retryManager) Stop() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.stopped {
		return
	}

	rm.stopped = true
	for url, timer := range rm.timers {
		if timer.Stop() {
			rm.releaseLocked()
		}
		delete(rm.timers, url)
	}
}

func (rm *retryManager) TotalRetries() int {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.totalRetries
}

func (rm *retryManager) SetContext(ctx context.Context) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if ctx == nil {
		rm.ctx = context.Background()
		return
	}
	rm.ctx = ctx
}
