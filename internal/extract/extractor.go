// Package extract turns catalog HTML into typed records using goquery selectors.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-scraper/internal/catalog"
)

// Kind selects how a field's matched node is converted.
type Kind int

const (
	// KindText is the cleaned text content.
	KindText Kind = iota
	// KindInt is the first integer found in the text content.
	KindInt
	// KindURL is the href attribute resolved against the base URL.
	KindURL
	// KindList is the text of each child paragraph or list item joined with ", ".
	KindList
)

// Field maps a named value to a selector relative to a parent element.
type Field struct {
	Name     string
	Selector string
	Kind     Kind
}

// Values holds extracted field values keyed by field name.
type Values map[string]any

// String returns a text value or "".
func (v Values) String(name string) string {
	s, _ := v[name].(string)
	return s
}

// Int returns an integer value or 0.
func (v Values) Int(name string) int {
	n, _ := v[name].(int)
	return n
}

// Config controls URL resolution and study program filtering.
type Config struct {
	BaseURL        string
	LanguageSuffix string
}

// Extractor extracts typed fields from goquery selections.
// A field that cannot be extracted is logged and replaced with its zero value.
type Extractor struct {
	base   *url.URL
	suffix string
	logger *zap.Logger
}

var firstInt = regexp.MustCompile(`\d+`)

// New builds an Extractor.
func New(cfg Config, logger *zap.Logger) (*Extractor, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{base: base, suffix: cfg.LanguageSuffix, logger: logger}, nil
}

// Extract resolves every field against parent.
func (e *Extractor) Extract(parent *goquery.Selection, fields []Field) Values {
	out := make(Values, len(fields))
	for _, f := range fields {
		switch f.Kind {
		case KindInt:
			out[f.Name] = e.Int(parent, f)
		case KindURL:
			out[f.Name] = e.URL(parent, f)
		case KindList:
			out[f.Name] = e.List(parent, f)
		default:
			out[f.Name] = e.Text(parent, f)
		}
	}
	return out
}

// Text returns the cleaned text of the first match.
func (e *Extractor) Text(parent *goquery.Selection, f Field) string {
	node := parent.Find(f.Selector).First()
	if node.Length() == 0 {
		e.warn(f, "selector matched nothing")
		return ""
	}
	return Clean(node.Text())
}

// Int returns the first integer in the text of the first match.
func (e *Extractor) Int(parent *goquery.Selection, f Field) int {
	text := e.Text(parent, f)
	if text == "" {
		return 0
	}
	return e.parseInt(f, text)
}

func (e *Extractor) parseInt(f Field, text string) int {
	digits := firstInt.FindString(text)
	if digits == "" {
		e.warn(f, "no integer in text", zap.String("text", text))
		return 0
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		e.warn(f, "integer out of range", zap.Error(err))
		return 0
	}
	return n
}

// URL resolves the href of the first match against the base URL.
func (e *Extractor) URL(parent *goquery.Selection, f Field) string {
	node := parent.Find(f.Selector).First()
	href, ok := node.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		e.warn(f, "missing href")
		return ""
	}
	resolved, err := e.Resolve(href)
	if err != nil {
		e.warn(f, "invalid href", zap.Error(err))
		return ""
	}
	return resolved
}

// Resolve makes href absolute against the base URL and validates the result.
func (e *Extractor) Resolve(href string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	abs := e.base.ResolveReference(ref).String()
	if err := catalog.ValidateURL(abs); err != nil {
		return "", err
	}
	return abs, nil
}

// List joins the cleaned text of each paragraph or list item under the first match.
// Cells without such children fall back to their own text.
func (e *Extractor) List(parent *goquery.Selection, f Field) string {
	node := parent.Find(f.Selector).First()
	if node.Length() == 0 {
		e.warn(f, "selector matched nothing")
		return ""
	}
	var items []string
	node.Find("p, li").Each(func(_ int, item *goquery.Selection) {
		if text := Clean(item.Text()); text != "" {
			items = append(items, text)
		}
	})
	if len(items) == 0 {
		return Clean(node.Text())
	}
	return strings.Join(items, ", ")
}

// Present reports whether every selector matches inside parent.
func (e *Extractor) Present(parent *goquery.Selection, selectors ...string) bool {
	for _, sel := range selectors {
		if parent.Find(sel).Length() == 0 {
			return false
		}
	}
	return true
}

func (e *Extractor) warn(f Field, msg string, extra ...zap.Field) {
	fields := append([]zap.Field{
		zap.String("field", f.Name),
		zap.String("selector", f.Selector),
	}, extra...)
	e.logger.Warn("field extraction: "+msg, fields...)
}

// Clean collapses whitespace runs into single spaces and trims the ends.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// OrNone substitutes the none sentinel for empty text.
func OrNone(s string) string {
	if s == "" {
		return catalog.NoneSentinel
	}
	return s
}
