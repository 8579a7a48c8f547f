package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"time"
)

// Config holds tracker configuration.
type Config struct {
	DataDir        string
	HistoryFile    string
	HistoricalFile string
	MetadataFile   string
	OutputFile     string

	BookURLs  []string
	BooksFile string

	Parallelism      int
	Delay            time.Duration
	RandomDelay      time.Duration
	Timeout          time.Duration
	MaxRetries       int
	RetryBackoff     time.Duration
	RetryBackoffMax  time.Duration
	UserAgent        string
	RespectRobotsTxt bool

	SnapshotRetentionDays int
	HistoryRetentionDays  int
	DedupeMaxSize         int

	ListenAddr string
	Verbose    bool
}

// DefaultConfig returns conservative defaults for a handful of product pages.
func DefaultConfig() *Config {
	return &Config{
		DataDir:               DefaultDataDir(),
		HistoryFile:           "history.json",
		HistoricalFile:        "historical.json",
		MetadataFile:          "metadata.json",
		OutputFile:            "output.json",
		Parallelism:           2,
		Delay:                 1 * time.Second,
		RandomDelay:           500 * time.Millisecond,
		Timeout:               30 * time.Second,
		MaxRetries:            2,
		RetryBackoff:          2 * time.Second,
		RetryBackoffMax:       10 * time.Second,
		UserAgent:             "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		RespectRobotsTxt:      false,
		SnapshotRetentionDays: 14,
		HistoryRetentionDays:  30,
		DedupeMaxSize:         10000,
		ListenAddr:            ":8080",
		Verbose:               false,
	}
}

// HistoryPath is the location of the daily snapshot document.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, c.HistoryFile)
}

// HistoricalPath is the location of the per-book history document.
func (c *Config) HistoricalPath() string {
	return filepath.Join(c.DataDir, c.HistoricalFile)
}

// MetadataPath is the location of the latest scrape batch.
func (c *Config) MetadataPath() string {
	return filepath.Join(c.DataDir, c.MetadataFile)
}

// OutputPath is the location of the projected leaderboard.
func (c *Config) OutputPath() string {
	return filepath.Join(c.DataDir, c.OutputFile)
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data dir cannot be empty")
	}
	for name, file := range map[string]string{
		"history file":    c.HistoryFile,
		"historical file": c.HistoricalFile,
		"metadata file":   c.MetadataFile,
		"output file":     c.OutputFile,
	} {
		if file == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		if filepath.Base(file) != file {
			return fmt.Errorf("%s must be a plain file name, got %q", name, file)
		}
	}

	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.SnapshotRetentionDays <= 0 {
		return fmt.Errorf("snapshot retention days must be positive")
	}
	if c.HistoryRetentionDays <= 0 {
		return fmt.Errorf("history retention days must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	for _, raw := range c.BookURLs {
		if err := validateBookURL(raw); err != nil {
			return err
		}
	}

	return nil
}

// ValidateScrape checks the settings only a scrape cycle needs.
func (c *Config) ValidateScrape() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if len(c.BookURLs) == 0 {
		return fmt.Errorf("at least one book URL is required")
	}
	return nil
}

func validateBookURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid book URL %q: %w", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("book URL %q must use http or https", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("book URL %q must include a host", raw)
	}
	return nil
}
