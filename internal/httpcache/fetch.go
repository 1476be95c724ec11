// Package httpcache performs conditional HTTP GETs backed by a small disk
// cache. A 304 or a failed request falls back to the last good body, so an
// unreachable upstream degrades to stale data instead of an empty calendar.
package httpcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "farmcal/internal/log"
)

// Request describes one cached GET.
type Request struct {
	// ID is used for logging only (e.g. "backend", an ICS feed ID).
	ID string
	// URL is the full request URL, query included. It is also the cache key.
	URL string
	// Header is added to the outgoing request (e.g. Authorization).
	Header http.Header
}

// Result contains the outcome of one fetch.
type Result struct {
	Request   Request
	Body      []byte
	FromCache bool // true if the cached body was reused (304 or upstream failure)
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// StatusError is returned for a non-2xx/304 response with no cached body
// to fall back on.
type StatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("httpcache: GET %s: %s", RedactURL(e.URL), e.Status)
}

// Fetcher performs conditional GETs (ETag / Last-Modified) with a
// disk-backed cache.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher storing per-URL cache subdirectories under
// cacheDir. A nil client gets a 15s timeout default.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		// Caller should set this explicitly; we fallback to a relative dir
		// so that development runs without root permissions.
		cacheDir = "./var/http-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{
		client:   client,
		cacheDir: cacheDir,
	}
}

// FetchAll fetches every request and returns the successful results.
// Per-request errors are logged and joined into the returned error.
func (f *Fetcher) FetchAll(ctx context.Context, reqs []Request) ([]Result, error) {
	results := make([]Result, 0, len(reqs))
	var errs []error

	for _, r := range reqs {
		res, err := f.Get(ctx, r)
		if err != nil {
			errs = append(errs, err)
			appLog.Error("fetch failed", err, "id", r.ID, "url", RedactURL(r.URL))
			continue
		}
		results = append(results, res)
	}

	return results, errors.Join(errs...)
}

// Get fetches one URL, honoring ETag and Last-Modified from the cache.
func (f *Fetcher) Get(ctx context.Context, r Request) (Result, error) {
	if r.URL == "" {
		return Result{}, errors.New("httpcache: request URL is empty")
	}

	cachePath := f.cachePathForURL(r.URL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return Result{}, err
	}

	meta, _ := f.loadCacheMeta(cachePath)
	cachedBody, _ := f.loadCacheBody(cachePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URL, nil)
	if err != nil {
		return Result{}, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	// Conditional headers only make sense when we can serve the body.
	if len(cachedBody) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("fetch start", "id", r.ID, "url", RedactURL(r.URL))

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		// Network error; if we have a cached body, fall back to it.
		if len(cachedBody) > 0 {
			appLog.Warn("fetch network error, using cached body", "err", err, "id", r.ID, "url", RedactURL(r.URL))
			return Result{Request: r, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		if len(cachedBody) == 0 {
			return Result{}, errors.New("httpcache: received 304 Not Modified but no cached body available")
		}
		appLog.Debug("fetch not modified; using cache", "id", r.ID, "url", RedactURL(r.URL))
		return Result{Request: r, Body: cachedBody, FromCache: true}, nil

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return Result{}, readErr
		}

		newMeta := cacheEntry{
			URL:          r.URL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := f.saveCache(cachePath, newMeta, body); err != nil {
			// Log but still return the freshly fetched body.
			appLog.Error("cache save failed", err, "id", r.ID, "url", RedactURL(r.URL))
		}

		appLog.Debug("fetch success", "id", r.ID, "url", RedactURL(r.URL), "status", resp.StatusCode)
		return Result{Request: r, Body: body}, nil

	default:
		// Auth failures must surface; stale data would hide a revoked token.
		if len(cachedBody) > 0 && resp.StatusCode != http.StatusUnauthorized && resp.StatusCode != http.StatusForbidden {
			appLog.Warn("fetch non-OK, using cached body", "status", resp.StatusCode, "id", r.ID, "url", RedactURL(r.URL))
			return Result{Request: r, Body: cachedBody, FromCache: true}, nil
		}
		return Result{}, &StatusError{URL: r.URL, StatusCode: resp.StatusCode, Status: resp.Status}
	}
}

// Forget drops the cached body and metadata for url.
func (f *Fetcher) Forget(url string) error {
	err := os.RemoveAll(f.cachePathForURL(url))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (f *Fetcher) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Fetcher) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Fetcher) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func (f *Fetcher) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
