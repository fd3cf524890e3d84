package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

type countingFetcher struct {
	calls int
	err   error
}

func (c *countingFetcher) Fetch(_ context.Context, url string) (catalog.Page, error) {
	c.calls++
	if c.err != nil {
		return catalog.Page{}, c.err
	}
	return catalog.Page{URL: url, StatusCode: 200, Body: []byte("<html>" + url + "</html>")}, nil
}

func newTestCache(t *testing.T, next catalog.PageFetcher, clock catalog.Clock) *Fetcher {
	t.Helper()
	db, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(next, db, time.Hour, clock, nil)
}

func TestCacheHit(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := newTestCache(t, next, clock)

	first, err := f.Fetch(context.Background(), "https://x/a")
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := f.Fetch(context.Background(), "https://x/a")
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.Equal(t, 1, next.calls)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	f := newTestCache(t, next, clock)

	_, err := f.Fetch(context.Background(), "https://x/a")
	require.NoError(t, err)

	clock.now = clock.now.Add(2 * time.Hour)
	page, err := f.Fetch(context.Background(), "https://x/a")
	require.NoError(t, err)
	assert.False(t, page.FromCache)
	assert.Equal(t, 2, next.calls)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	t.Parallel()

	next := &countingFetcher{err: errors.New("down")}
	f := newTestCache(t, next, &fakeClock{now: time.Unix(0, 0)})

	for range 2 {
		_, err := f.Fetch(context.Background(), "https://x/a")
		require.Error(t, err)
	}
	assert.Equal(t, 2, next.calls)
}
