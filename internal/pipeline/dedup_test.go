package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

func TestDeduplicatorKeepsFirstSeen(t *testing.T) {
	ctx := context.Background()
	d := NewDeduplicator(time.Second)

	first := catalog.CourseHeader{Code: "F23L1W001", Name: "first", URL: "https://example.test/a"}
	second := catalog.CourseHeader{Code: "F23L1W001", Name: "second", URL: "https://example.test/b"}
	other := catalog.CourseHeader{Code: "F23L2S002", Name: "other", URL: "https://example.test/c"}

	ok, err := d.Offer(ctx, first)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = d.Offer(ctx, second)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = d.Offer(ctx, other)
	require.NoError(t, err)
	assert.True(t, ok)

	headers, err := d.Headers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []catalog.CourseHeader{first, other}, headers)
}

func TestDeduplicatorConcurrentOffers(t *testing.T) {
	ctx := context.Background()
	d := NewDeduplicator(time.Second)

	const (
		workers = 16
		codes   = 50
	)
	var accepted atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < codes; i++ {
				h := catalog.CourseHeader{Code: fmt.Sprintf("F23L1W%03d", i), URL: "https://example.test"}
				ok, err := d.Offer(ctx, h)
				if err != nil {
					t.Error(err)
					return
				}
				if ok {
					accepted.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, codes, accepted.Load())
	headers, err := d.Headers(ctx)
	require.NoError(t, err)
	assert.Len(t, headers, codes)
}

func TestDeduplicatorLockTimeout(t *testing.T) {
	d := NewDeduplicator(10 * time.Millisecond)
	require.NoError(t, d.mu.Lock(context.Background()))
	defer d.mu.Unlock()

	_, err := d.Offer(context.Background(), catalog.CourseHeader{Code: "F23L1W001"})
	require.ErrorIs(t, err, ErrLockTimeout)
}
