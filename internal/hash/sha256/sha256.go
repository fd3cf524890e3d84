// Package sha256 computes dataset content digests.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

// Prefix labels digests with their algorithm.
const Prefix = "sha256:"

var _ catalog.Hasher = (*Hasher)(nil)

// Hasher implements catalog.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the prefixed hex digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return Prefix + hex.EncodeToString(sum[:]), nil
}
