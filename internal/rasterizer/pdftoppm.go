package rasterizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/ledongthuc/pdf"
)

// Pdftoppm shells out to poppler's pdftoppm binary.
type Pdftoppm struct {
	Bin string
}

// NewPdftoppm creates a rasterizer that runs bin (looked up in PATH when relative).
func NewPdftoppm(bin string) *Pdftoppm {
	if bin == "" {
		bin = "pdftoppm"
	}
	return &Pdftoppm{Bin: bin}
}

// IsAvailable reports whether the binary can be found.
func (p *Pdftoppm) IsAvailable() bool {
	_, err := exec.LookPath(p.Bin)
	return err == nil
}

// Rasterize renders the selected pages as PNG into a private temp directory
// and decodes them back in page order.
func (p *Pdftoppm) Rasterize(ctx context.Context, path string, opts Options) ([]image.Image, error) {
	if !p.IsAvailable() {
		return nil, fmt.Errorf("pdftoppm not found at %q: install poppler-utils", p.Bin)
	}

	total, err := CountPages(path)
	if err != nil {
		return nil, err
	}
	first, last, err := opts.Pages.Resolve(total)
	if err != nil {
		return nil, err
	}

	tmpDir, err := os.MkdirTemp("", "pdftoppm-*")
	if err != nil {
		return nil, fmt.Errorf("cannot create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	outputBase := filepath.Join(tmpDir, "page")
	cmd := exec.CommandContext(ctx, p.Bin,
		"-r", strconv.Itoa(opts.DPI),
		"-f", strconv.Itoa(first),
		"-l", strconv.Itoa(last),
		"-png",
		path, outputBase,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("pdftoppm failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := renderedFiles(tmpDir)
	if err != nil {
		return nil, err
	}
	if want := last - first + 1; len(files) != want {
		return nil, fmt.Errorf("pdftoppm produced %d pages, expected %d", len(files), want)
	}

	images := make([]image.Image, 0, len(files))
	for _, f := range files {
		img, err := imaging.Open(f)
		if err != nil {
			return nil, fmt.Errorf("cannot decode %s: %w", filepath.Base(f), err)
		}
		images = append(images, img)
	}
	return images, nil
}

// renderedFiles lists the PNGs pdftoppm wrote. Page numbers in the names are
// zero-padded to the same width, so lexical order is page order.
func renderedFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".png") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// CountPages parses the document structure with a pure-Go reader and returns
// its page count.
func CountPages(path string) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, fmt.Errorf("%w: %v", ErrUnreadableDocument, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	defer f.Close()
	return r.NumPage(), nil
}
