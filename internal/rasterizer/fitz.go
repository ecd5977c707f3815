package rasterizer

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// Fitz renders through MuPDF. It requires cgo.
type Fitz struct{}

// NewFitz creates a MuPDF-backed rasterizer.
func NewFitz() *Fitz {
	return &Fitz{}
}

// Rasterize opens the document once per call and renders the selected pages at opts.DPI.
func (f *Fitz) Rasterize(ctx context.Context, path string, opts Options) ([]image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer doc.Close()

	first, last, err := opts.Pages.Resolve(doc.NumPage())
	if err != nil {
		return nil, err
	}

	images := make([]image.Image, 0, last-first+1)
	for n := first; n <= last; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// go-fitz pages are 0-based.
		img, err := doc.ImageDPI(n-1, float64(opts.DPI))
		if err != nil {
			return nil, fmt.Errorf("unable to render page %d: %w", n, err)
		}
		images = append(images, img)
	}
	return images, nil
}
