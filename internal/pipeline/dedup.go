package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

// Deduplicator remembers the first CourseHeader seen for every course code in a run.
type Deduplicator struct {
	mu    *TimedMutex
	seen  map[string]catalog.CourseHeader
	order []string
}

// NewDeduplicator builds an empty Deduplicator guarded by a TimedMutex.
func NewDeduplicator(lockTimeout time.Duration) *Deduplicator {
	return &Deduplicator{
		mu:   NewTimedMutex(lockTimeout),
		seen: make(map[string]catalog.CourseHeader),
	}
}

// Offer records h if its code is new and reports whether it was.
// The membership check and the insert happen in one critical section, so exactly one
// caller per code ever observes true.
func (d *Deduplicator) Offer(ctx context.Context, h catalog.CourseHeader) (bool, error) {
	if err := d.mu.Lock(ctx); err != nil {
		return false, err
	}
	defer d.mu.Unlock()

	if _, ok := d.seen[h.Code]; ok {
		return false, nil
	}
	d.seen[h.Code] = h
	d.order = append(d.order, h.Code)
	return true, nil
}

// Headers returns the accepted headers in first-seen order.
func (d *Deduplicator) Headers(ctx context.Context) ([]catalog.CourseHeader, error) {
	if err := d.mu.Lock(ctx); err != nil {
		return nil, err
	}
	defer d.mu.Unlock()

	out := make([]catalog.CourseHeader, 0, len(d.order))
	for _, code := range d.order {
		out = append(out, d.seen[code])
	}
	return out, nil
}
