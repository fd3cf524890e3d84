// Package cache provides a badger-backed PageFetcher decorator that reuses recently fetched pages.
package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
	"github.com/JakeFAU/catalog-scraper/internal/metrics"
)

const keyPrefix = "page:"

type cachedPage struct {
	URL        string
	StatusCode int
	Body       []byte
	ExpiresAt  int64
}

// Open opens a badger database at dir. An empty dir opens an in-memory store.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open page cache: %w", err)
	}
	return db, nil
}

// Fetcher serves successful pages from badger and falls through to next on a miss.
type Fetcher struct {
	next   catalog.PageFetcher
	db     *badger.DB
	ttl    time.Duration
	clock  catalog.Clock
	logger *zap.Logger
}

// New wraps next. Entries older than ttl are treated as misses.
func New(next catalog.PageFetcher, db *badger.DB, ttl time.Duration, clock catalog.Clock, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{next: next, db: db, ttl: ttl, clock: clock, logger: logger}
}

// Fetch returns a cached page when one is fresh, otherwise fetches and stores it.
// Cache failures are logged and never fail the fetch.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.Page, error) {
	page, err := f.get(url)
	switch {
	case err == nil:
		metrics.ObserveCache("hit")
		return page, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		metrics.ObserveCache("miss")
	default:
		metrics.ObserveCache("error")
		f.logger.Warn("page cache read failed", zap.String("url", url), zap.Error(err))
	}

	page, err = f.next.Fetch(ctx, url)
	if err != nil {
		return catalog.Page{}, err
	}
	if err := f.put(url, page); err != nil {
		f.logger.Warn("page cache write failed", zap.String("url", url), zap.Error(err))
	}
	return page, nil
}

func (f *Fetcher) get(url string) (catalog.Page, error) {
	var cached cachedPage
	err := f.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + url))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("copy cached page: %w", err)
		}
		if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cached); err != nil {
			return fmt.Errorf("decode cached page: %w", err)
		}
		return nil
	})
	if err != nil {
		return catalog.Page{}, err
	}
	if f.clock.Now().Unix() >= cached.ExpiresAt {
		if delErr := f.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(keyPrefix + url))
		}); delErr != nil {
			f.logger.Debug("delete expired page", zap.String("url", url), zap.Error(delErr))
		}
		return catalog.Page{}, badger.ErrKeyNotFound
	}
	return catalog.Page{
		URL:        cached.URL,
		StatusCode: cached.StatusCode,
		Body:       cached.Body,
		FromCache:  true,
	}, nil
}

func (f *Fetcher) put(url string, page catalog.Page) error {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(cachedPage{
		URL:        page.URL,
		StatusCode: page.StatusCode,
		Body:       page.Body,
		ExpiresAt:  f.clock.Now().Add(f.ttl).Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}
	return f.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+url), buf.Bytes())
		if f.ttl > 0 {
			entry = entry.WithTTL(f.ttl)
		}
		return txn.SetEntry(entry)
	})
}
