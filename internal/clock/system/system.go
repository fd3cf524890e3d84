// Package system provides the wall clock used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

var _ catalog.Clock = Clock{}

// Clock implements catalog.Clock in UTC.
type Clock struct{}

// New creates a new Clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
