package config

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
)

const appDirName = "bsr-tracker"

// DefaultDataDir resolves where the JSON documents live. BSR_DATA_DIR wins,
// then $XDG_DATA_HOME/bsr-tracker.
func DefaultDataDir() string {
	if explicit, ok := EnvString("BSR_DATA_DIR"); ok {
		return explicit
	}

	xdg.Reload()
	dataHome := xdg.DataHome
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), appDirName)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, appDirName)
}

// Load builds a Config from defaults, an optional .env file and the process
// environment. A missing envFile is not an error.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %q: %w", envFile, err)
		}
	}

	cfg := DefaultConfig()

	if value, ok := EnvString("BSR_BOOKS_FILE"); ok {
		cfg.BooksFile = value
	}
	if value, ok := EnvList("BSR_BOOK_URLS"); ok {
		cfg.BookURLs = value
	}
	if value, ok, err := EnvInt("BSR_PARALLEL"); err != nil {
		return nil, fmt.Errorf("invalid BSR_PARALLEL: %w", err)
	} else if ok {
		cfg.Parallelism = value
	}
	if value, ok, err := EnvInt("BSR_MAX_RETRIES"); err != nil {
		return nil, fmt.Errorf("invalid BSR_MAX_RETRIES: %w", err)
	} else if ok {
		cfg.MaxRetries = value
	}
	if value, ok, err := EnvDuration("BSR_TIMEOUT"); err != nil {
		return nil, fmt.Errorf("invalid BSR_TIMEOUT: %w", err)
	} else if ok {
		cfg.Timeout = value
	}
	if value, ok, err := EnvDuration("BSR_DELAY"); err != nil {
		return nil, fmt.Errorf("invalid BSR_DELAY: %w", err)
	} else if ok {
		cfg.Delay = value
	}
	if value, ok := EnvString("BSR_USER_AGENT"); ok {
		cfg.UserAgent = value
	}
	if value, ok, err := EnvBool("BSR_RESPECT_ROBOTS"); err != nil {
		return nil, fmt.Errorf("invalid BSR_RESPECT_ROBOTS: %w", err)
	} else if ok {
		cfg.RespectRobotsTxt = value
	}
	if value, ok := EnvString("BSR_LISTEN_ADDR"); ok {
		cfg.ListenAddr = value
	}

	return cfg, nil
}

// ResolveBooks appends the URLs listed in BooksFile to BookURLs, dropping
// duplicates while keeping first-seen order.
func (c *Config) ResolveBooks() error {
	urls := append([]string(nil), c.BookURLs...)
	if c.BooksFile != "" {
		fromFile, err := LoadBookList(c.BooksFile)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}

	seen := make(map[string]struct{}, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	c.BookURLs = out
	return nil
}

// LoadBookList reads one URL per line. Blank lines and lines starting with
// '#' are skipped.
func LoadBookList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open books file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read books file: %w", err)
	}
	return urls, nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, err
	}
	return value, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}

// EnvList splits a comma separated value, ignoring empty items.
func EnvList(key string) ([]string, bool) {
	raw, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, len(out) > 0
}
