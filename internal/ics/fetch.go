package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	appLog "panelcal/internal/log"
	"panelcal/internal/store"
)

const cacheKeyPrefix = "icsCache:"

// FetchResult is the body of one calendar fetch.
type FetchResult struct {
	Body      []byte
	FromCache bool // true when a 304 or a failed request reused the cached body
}

// cacheEntry is the conditional-GET state kept per URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	Body         []byte    `json:"body"`
}

// Fetcher downloads calendars with ETag / Last-Modified revalidation. The
// last good body per URL is cached in a store.KV; a nil cache disables
// caching.
type Fetcher struct {
	client *http.Client
	cache  store.KV
	now    func() time.Time
}

func NewFetcher(client *http.Client, cache store.KV) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cache: cache, now: time.Now}
}

// Fetch retrieves rawURL, falling back to the cached body on 304, network
// errors and non-OK statuses.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("ics: source URL is empty")
	}
	key := cacheKey(rawURL)
	meta := f.loadCache(ctx, key)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("ics fetch start", "url", redactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		if len(meta.Body) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "url", redactURL(rawURL))
			return FetchResult{Body: meta.Body, FromCache: true}, nil
		}
		return FetchResult{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return FetchResult{}, err
		}
		f.saveCache(ctx, key, cacheEntry{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
			UpdatedAt:    f.now().UTC(),
			Body:         body,
		})
		appLog.Info("ics fetch success", "url", redactURL(rawURL), "status", resp.StatusCode, "bytes", len(body))
		return FetchResult{Body: body}, nil

	case http.StatusNotModified:
		if len(meta.Body) == 0 {
			return FetchResult{}, errors.New("ics: 304 Not Modified without a cached body")
		}
		appLog.Info("ics fetch not modified; using cache", "url", redactURL(rawURL))
		return FetchResult{Body: meta.Body, FromCache: true}, nil

	default:
		statusErr := fmt.Errorf("ics: fetch %s: %s", redactURL(rawURL), resp.Status)
		if len(meta.Body) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", statusErr, "url", redactURL(rawURL), "status", resp.StatusCode)
			return FetchResult{Body: meta.Body, FromCache: true}, nil
		}
		return FetchResult{}, statusErr
	}
}

func (f *Fetcher) loadCache(ctx context.Context, key string) cacheEntry {
	if f.cache == nil {
		return cacheEntry{}
	}
	meta, err := store.Load(ctx, f.cache, key, cacheEntry{})
	if err != nil {
		appLog.Warn("ics cache unreadable", "key", key, "reason", err.Error())
		return cacheEntry{}
	}
	return meta
}

func (f *Fetcher) saveCache(ctx context.Context, key string, meta cacheEntry) {
	if f.cache == nil {
		return
	}
	if err := store.Save(ctx, f.cache, map[string]any{key: meta}); err != nil {
		// The fresh body is still returned.
		appLog.Error("ics cache save failed", err, "key", key)
	}
}

func cacheKey(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return cacheKeyPrefix + hex.EncodeToString(sum[:8])
}

// redactURL keeps only scheme and host, since calendar URLs often embed
// access tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
