// Package rasterizer renders PDF pages into raster images through an
// external engine (MuPDF via go-fitz, or poppler's pdftoppm).
package rasterizer

import (
	"context"
	"errors"
	"fmt"
	"image"

	u "pdf2image/internal/utils"
)

var (
	// ErrUnreadableDocument signals that the engine could not parse the input.
	ErrUnreadableDocument = errors.New("unable to read document")
	// ErrNoPages signals a document without any page.
	ErrNoPages = errors.New("document has no pages")
	// ErrPageOutOfRange signals a page selection outside the document.
	ErrPageOutOfRange = errors.New("page out of range")
)

// PageRange is an inclusive, 1-based range of pages. The zero value selects
// every page of the document.
type PageRange struct {
	First int
	Last  int
}

// Single returns the range holding exactly page n.
func Single(n int) PageRange {
	return PageRange{First: n, Last: n}
}

// All reports whether r selects the whole document.
func (r PageRange) All() bool {
	return r.First == 0 && r.Last == 0
}

// Resolve clamps r against a document of total pages and returns the
// concrete inclusive bounds.
func (r PageRange) Resolve(total int) (first, last int, err error) {
	if total <= 0 {
		return 0, 0, ErrNoPages
	}
	if r.All() {
		return 1, total, nil
	}
	if r.First < 1 || r.Last < r.First || r.Last > total {
		return 0, 0, fmt.Errorf("%w: requested %d-%d, document has %d", ErrPageOutOfRange, r.First, r.Last, total)
	}
	return r.First, r.Last, nil
}

// Options controls one rasterization.
type Options struct {
	DPI   int
	Pages PageRange
}

// Rasterizer turns the document at path into one image per selected page,
// in page order.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, opts Options) ([]image.Image, error)
}

// New returns the backend named in cfg.Convert.Rasterizer.
func New(cfg u.Config) (Rasterizer, error) {
	switch cfg.Convert.Rasterizer {
	case "", "fitz":
		return NewFitz(), nil
	case "pdftoppm":
		return NewPdftoppm(cfg.Convert.PdftoppmPath), nil
	default:
		return nil, fmt.Errorf("unknown rasterizer %q", cfg.Convert.Rasterizer)
	}
}
