// Package templatecache fetches small text/JSON/phoneme assets over HTTP
// and caches them with a TTL and an early-refresh window, coalescing
// concurrent cold fetches for the same URL.
package templatecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	// ttl is how long a cached body is served without any refresh.
	ttl = 15 * time.Minute
	// earlyRefresh is the age at which a hit triggers a background refresh
	// while still serving the (still valid) cached body.
	earlyRefresh = 12 * time.Minute
	// fetchTimeout bounds a single upstream round trip.
	fetchTimeout = 10 * time.Second
)

// ErrUpstreamUnavailable is returned when a fetch fails and no stale cached
// body exists to fall back on.
var ErrUpstreamUnavailable = errors.New("templatecache: upstream unavailable")

type entry struct {
	body      []byte
	fetchedAt time.Time
}

// Fetcher fetches and caches URL bodies. Zero value is not usable; use New.
type Fetcher struct {
	client *http.Client
	group  singleflight.Group

	mu      sync.RWMutex
	entries map[string]entry

	now func() time.Time
}

// New constructs a Fetcher backed by client.
func New(client *http.Client) *Fetcher {
	return &Fetcher{
		client:  client,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Fetch returns the body of url, consulting the cache first.
//
//   - hit younger than earlyRefresh: return the cached body.
//   - hit in [earlyRefresh, ttl): return the cached body, spawn a
//     single-flight background refresh.
//   - miss or hit older than ttl: fetch synchronously; on error, fall back
//     to a stale cached body if one exists, otherwise ErrUpstreamUnavailable.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.RLock()
	e, ok := f.entries[url]
	f.mu.RUnlock()

	if ok {
		age := f.now().Sub(e.fetchedAt)
		if age < earlyRefresh {
			return e.body, nil
		}
		if age < ttl {
			go f.refresh(url)
			return e.body, nil
		}
	}

	body, err := f.fetchAndStore(ctx, url)
	if err != nil {
		if ok {
			slog.Warn("templatecache: serving stale body after fetch error", "url", url, "error", err)
			return e.body, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	return body, nil
}

// refresh coalesces concurrent early-refresh attempts for the same URL so
// that at most one upstream request is in flight per URL at a time.
func (f *Fetcher) refresh(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	if _, err := f.fetchAndStore(ctx, url); err != nil {
		slog.Warn("templatecache: background refresh failed", "url", url, "error", err)
	}
}

func (f *Fetcher) fetchAndStore(ctx context.Context, url string) ([]byte, error) {
	v, err, _ := f.group.Do(url, func() (any, error) {
		ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
		defer cancel()
		return f.doFetch(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (f *Fetcher) doFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.entries[url] = entry{body: body, fetchedAt: f.now()}
	f.mu.Unlock()

	return body, nil
}
