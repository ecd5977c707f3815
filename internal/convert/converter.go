// Package convert implements the upload/convert/respond lifecycle: the
// uploaded document is copied to a scratch file, rasterized, and every page
// is saved next to it under a name derived from the request identifier.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"pdf2image/internal/rasterizer"
	u "pdf2image/internal/utils"
)

// Request is one conversion. Page 0 selects every page.
type Request struct {
	Document []byte
	Page     int
	Format   string
	DPI      int
}

// Result describes the rendered outputs, in page order.
type Result struct {
	ID          string
	Format      string
	DPI         int
	ContentType string
	Paths       []string
}

// Single reports whether exactly one page was produced.
func (r *Result) Single() bool {
	return len(r.Paths) == 1
}

// Recorder is told about every successful conversion.
type Recorder interface {
	Record(ctx context.Context, res *Result) error
}

// Options tunes a Converter.
type Options struct {
	Timeout     time.Duration
	JPEGQuality int
	Recorder    Recorder
}

// Converter runs conversions against one scratch store and rasterizer.
type Converter struct {
	store  *Store
	raster rasterizer.Rasterizer
	opts   Options
}

// New creates a Converter.
func New(store *Store, raster rasterizer.Rasterizer, opts Options) *Converter {
	return &Converter{store: store, raster: raster, opts: opts}
}

// Store returns the scratch store.
func (c *Converter) Store() *Store {
	return c.store
}

// Convert renders req.Document. The scratch document is removed before
// Convert returns, whatever the outcome; page files already written stay on
// disk even when a later page fails.
func (c *Converter) Convert(ctx context.Context, req Request) (*Result, error) {
	if req.DPI <= 0 {
		return nil, invalidInput("validate", fmt.Errorf("dpi must be positive, got %d", req.DPI))
	}
	if req.Page < 0 {
		return nil, invalidInput("validate", fmt.Errorf("page number must be positive, got %d", req.Page))
	}
	enc, err := rasterizer.NewEncoder(req.Format, c.opts.JPEGQuality)
	if err != nil {
		return nil, invalidInput("validate", err)
	}

	id := c.store.NewID()
	scratch, err := c.store.Acquire(id, req.Document)
	if err != nil {
		return nil, resourceFailure("write scratch", err)
	}
	defer func() {
		if err := scratch.Release(); err != nil {
			u.Warn("Scratch cleanup failed", "id", id, "path", scratch.Path, "error", err)
		}
	}()

	opts := rasterizer.Options{DPI: req.DPI}
	if req.Page > 0 {
		opts.Pages = rasterizer.Single(req.Page)
	}

	rctx := ctx
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	pages, err := c.raster.Rasterize(rctx, scratch.Path, opts)
	if err != nil {
		return nil, classifyRasterError(err)
	}
	if len(pages) == 0 {
		return nil, &Error{Kind: KindUpstream, Op: "rasterize", Err: errors.New("rasterizer returned no pages")}
	}

	res := &Result{
		ID:          id,
		Format:      req.Format,
		DPI:         req.DPI,
		ContentType: "image/" + req.Format,
		Paths:       make([]string, 0, len(pages)),
	}
	for i, img := range pages {
		path := c.store.PagePath(id, i+1, req.Format)
		if err := enc.Save(img, path); err != nil {
			return nil, resourceFailure("write page", fmt.Errorf("cannot save page %d: %w", i+1, err))
		}
		res.Paths = append(res.Paths, path)
	}

	c.record(ctx, res)

	u.Debug("Document converted", "id", id, "pages", len(res.Paths), "format", req.Format, "dpi", req.DPI)
	return res, nil
}

// Reuse stores an already rendered single page under a fresh identifier, as
// if it had just been converted, and returns the matching result. It serves
// cached renders without rasterizing again.
func (c *Converter) Reuse(ctx context.Context, format string, dpi int, data []byte) (*Result, error) {
	id := c.store.NewID()
	path := c.store.PagePath(id, 1, format)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, resourceFailure("write page", fmt.Errorf("cannot save page 1: %w", err))
	}

	res := &Result{
		ID:          id,
		Format:      format,
		DPI:         dpi,
		ContentType: "image/" + format,
		Paths:       []string{path},
	}
	c.record(ctx, res)
	return res, nil
}

func (c *Converter) record(ctx context.Context, res *Result) {
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.Record(ctx, res); err != nil {
		u.Warn("Recording rendered pages failed", "id", res.ID, "error", err)
	}
}
