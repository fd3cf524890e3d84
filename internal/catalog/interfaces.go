package catalog

import (
	"context"
	"time"
)

// PageFetcher retrieves a single HTML page.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

// WriteResult describes a persisted dataset.
type WriteResult struct {
	Dataset  string `json:"dataset"`
	Rows     int    `json:"rows"`
	Location string `json:"location"`
	Digest   string `json:"digest,omitempty"`
}

// DatasetWriter persists a complete dataset.
type DatasetWriter interface {
	WriteDataset(ctx context.Context, runID string, ds Dataset) (WriteResult, error)
}

// Publisher emits run notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator creates run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}
