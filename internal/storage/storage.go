// Package storage persists catalog datasets. Datasets are encoded into a file format and
// uploaded to a blob backend, or copied into Postgres tables.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

// BlobStore uploads an object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config controls object naming for BlobWriter.
type Config struct {
	Format         Format
	Prefix         string
	PartitionByRun bool
}

// BlobWriter encodes datasets and uploads them to a BlobStore.
type BlobWriter struct {
	store  BlobStore
	enc    Encoder
	hasher catalog.Hasher
	cfg    Config
}

// NewBlobWriter builds a BlobWriter. hasher may be nil, in which case no digest is recorded.
func NewBlobWriter(store BlobStore, hasher catalog.Hasher, cfg Config) (*BlobWriter, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	enc, err := NewEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	return &BlobWriter{store: store, enc: enc, hasher: hasher, cfg: cfg}, nil
}

// Key returns the object key of a dataset file.
func (w *BlobWriter) Key(runID, dataset, ext string) string {
	parts := []string{strings.Trim(w.cfg.Prefix, "/")}
	if w.cfg.PartitionByRun && runID != "" {
		parts = append(parts, "run="+runID)
	}
	parts = append(parts, dataset+"."+ext)
	return path.Join(parts...)
}

// WriteDataset encodes ds and uploads it. Avro datasets get a companion .avsc schema object.
func (w *BlobWriter) WriteDataset(ctx context.Context, runID string, ds catalog.Dataset) (catalog.WriteResult, error) {
	if ds.Name == "" {
		return catalog.WriteResult{}, errors.New("dataset name is required")
	}
	var buf bytes.Buffer
	if err := w.enc.Encode(&buf, ds); err != nil {
		return catalog.WriteResult{}, fmt.Errorf("encode %s: %w", ds.Name, err)
	}

	var digest string
	if w.hasher != nil {
		var err error
		if digest, err = w.hasher.Hash(buf.Bytes()); err != nil {
			return catalog.WriteResult{}, fmt.Errorf("hash %s: %w", ds.Name, err)
		}
	}

	if sw, ok := w.enc.(SchemaEncoder); ok {
		schema, err := sw.Schema(ds.Name, ds.Columns)
		if err != nil {
			return catalog.WriteResult{}, fmt.Errorf("schema %s: %w", ds.Name, err)
		}
		key := w.Key(runID, ds.Name, SchemaExtension)
		if _, err := w.store.PutObject(ctx, key, "application/json", strings.NewReader(schema)); err != nil {
			return catalog.WriteResult{}, fmt.Errorf("upload schema %s: %w", key, err)
		}
	}

	key := w.Key(runID, ds.Name, w.enc.Extension())
	uri, err := w.store.PutObject(ctx, key, w.enc.ContentType(), &buf)
	if err != nil {
		return catalog.WriteResult{}, fmt.Errorf("upload %s: %w", key, err)
	}
	return catalog.WriteResult{Dataset: ds.Name, Rows: ds.Len(), Location: uri, Digest: digest}, nil
}
