// Package retry wraps a PageFetcher with a bounded, fixed-delay retry loop.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
)

// ErrExhausted wraps the last transport error once every attempt has failed.
var ErrExhausted = errors.New("fetch retries exhausted")

// FixedPolicy retries transient transport errors a bounded number of times with a constant delay.
type FixedPolicy struct {
	attempts int
	delay    time.Duration
}

// NewFixedPolicy builds a policy making at most attempts calls, waiting delay between them.
func NewFixedPolicy(attempts int, delay time.Duration) FixedPolicy {
	if attempts < 1 {
		attempts = 1
	}
	if delay < 0 {
		delay = 0
	}
	return FixedPolicy{attempts: attempts, delay: delay}
}

// Attempts returns the total number of calls allowed.
func (p FixedPolicy) Attempts() int { return p.attempts }

// Delay returns the wait between attempts.
func (p FixedPolicy) Delay() time.Duration { return p.delay }

// ShouldRetry reports whether err after the given 1-based attempt warrants another call.
func (p FixedPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.attempts {
		return false
	}
	return Transient(err)
}

// Transient classifies transport failures worth retrying.
// HTTP status errors and caller cancellation never are.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, catalog.ErrHTTPStatus) || errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, context.DeadlineExceeded):
		return true
	}
	return false
}

// Fetcher decorates a PageFetcher with FixedPolicy.
type Fetcher struct {
	next   catalog.PageFetcher
	policy FixedPolicy
	logger *zap.Logger
}

// New wraps next with the given policy.
func New(next catalog.PageFetcher, policy FixedPolicy, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, policy: policy, logger: logger}
}

// Fetch calls the wrapped fetcher until it succeeds, fails permanently, or runs out of attempts.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	var lastErr error
	for attempt := 1; attempt <= f.policy.attempts; attempt++ {
		page, err := f.next.Fetch(ctx, url)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil {
			return catalog.Page{}, err
		}
		lastErr = err
		if !Transient(err) {
			return catalog.Page{}, err
		}
		if !f.policy.ShouldRetry(err, attempt) {
			break
		}

		f.logger.Warn("transient fetch failure, retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.policy.attempts),
			zap.Duration("delay", f.policy.delay),
			zap.Error(err),
		)
		metrics.ObserveRetry()
		if err := wait(ctx, f.policy.delay); err != nil {
			return catalog.Page{}, fmt.Errorf("retry delay for %s: %w (last error: %w)", url, err, lastErr)
		}
	}

	f.logger.Error("fetch failed after retries",
		zap.String("url", url),
		zap.Int("attempts", f.policy.attempts),
		zap.Error(lastErr),
	)
	return catalog.Page{}, fmt.Errorf("%w: %s after %d attempts: %w", ErrExhausted, url, f.policy.attempts, lastErr)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
