// Package ratelimit throttles page fetches with a token bucket per host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	RPS   float64
	Burst int
}

// Fetcher delays calls to the wrapped PageFetcher so no host sees more than RPS requests per second.
type Fetcher struct {
	next  catalog.PageFetcher
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New wraps next with per-host limits.
func New(next catalog.PageFetcher, cfg Config) *Fetcher {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Fetcher{
		next:     next,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = l
	}
	return l
}

// Wait blocks until a token for url's host is available.
func (f *Fetcher) Wait(ctx context.Context, url string) error {
	host := metrics.SanitizeSite(url)
	start := time.Now()
	if err := f.limiter(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

// Fetch implements catalog.PageFetcher.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	if err := f.Wait(ctx, url); err != nil {
		return catalog.Page{}, err
	}
	return f.next.Fetch(ctx, url)
}
