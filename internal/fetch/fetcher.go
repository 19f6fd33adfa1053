// Package fetch downloads mapping resources over HTTP with retries, an
// on-disk cache and a short-lived in-memory cache, and exposes downloads as
// pollable operations.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/wegman-software/osm2scene-go/internal/logger"
)

// StatusError is returned for a final response other than 200 OK.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d for %s", e.Code, e.URL)
}

// Options configures a Fetcher.
type Options struct {
	CacheDir   string        // on-disk cache; empty disables it
	Timeout    time.Duration // per request
	MaxRetries int
	RetryDelay time.Duration
	MemoSize   int // entries kept in memory; 0 disables the memo
	MemoTTL    time.Duration
	UserAgent  string
}

// DefaultOptions returns the settings used by the CLI.
func DefaultOptions() Options {
	return Options{
		Timeout:    60 * time.Second,
		MaxRetries: 3,
		RetryDelay: 2 * time.Second,
		MemoSize:   32,
		MemoTTL:    10 * time.Minute,
		UserAgent:  "osm2scene-go/1.0",
	}
}

// Fetcher downloads resources and caches the bodies.
type Fetcher struct {
	client     *http.Client
	cacheDir   string
	maxRetries int
	retryDelay time.Duration
	userAgent  string
	memo       *expirable.LRU[string, []byte]
}

// NewFetcher creates a fetcher
func NewFetcher(opts Options) *Fetcher {
	f := &Fetcher{
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		cacheDir:   opts.CacheDir,
		maxRetries: opts.MaxRetries,
		retryDelay: opts.RetryDelay,
		userAgent:  opts.UserAgent,
	}
	if opts.MemoSize > 0 {
		f.memo = expirable.NewLRU[string, []byte](opts.MemoSize, nil, opts.MemoTTL)
	}
	return f
}

// Get returns the body of url, served from memory or disk when cached.
func (f *Fetcher) Get(ctx context.Context, url string) ([]byte, error) {
	log := logger.Get()

	if f.memo != nil {
		if body, ok := f.memo.Get(url); ok {
			log.Debug("Using memoized response", zap.String("url", url))
			return body, nil
		}
	}

	cacheFile := f.CachePath(url)
	if cacheFile != "" {
		if body, err := os.ReadFile(cacheFile); err == nil {
			log.Debug("Using cached response", zap.String("path", cacheFile))
			f.remember(url, body)
			return body, nil
		}
	}

	log.Debug("Fetching", zap.String("url", url))

	resp, err := f.fetchWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if cacheFile != "" {
		if err := writeCacheFile(cacheFile, body); err != nil {
			log.Warn("Failed to cache response", zap.String("path", cacheFile), zap.Error(err))
		}
	}
	f.remember(url, body)

	log.Debug("Fetched", zap.String("url", url), zap.Int("bytes", len(body)))
	return body, nil
}

// CachePath returns where url is cached on disk, or "" without a cache dir.
func (f *Fetcher) CachePath(url string) string {
	if f.cacheDir == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(url))
	key := hex.EncodeToString(sum[:])
	return filepath.Join(f.cacheDir, key[:2], key)
}

func (f *Fetcher) remember(url string, body []byte) {
	if f.memo != nil {
		f.memo.Add(url, body)
	}
}

func writeCacheFile(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, body, 0644); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to write cache file: %w", err)
	}
	if err := os.Rename(tmpFile, path); err != nil {
		os.Remove(tmpFile)
		return fmt.Errorf("failed to rename cache file: %w", err)
	}
	return nil
}

// fetchWithRetry performs an HTTP GET, retrying transport and 5xx errors
func (f *Fetcher) fetchWithRetry(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = &StatusError{URL: url, Code: resp.StatusCode}
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
