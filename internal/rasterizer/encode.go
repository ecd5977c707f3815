package rasterizer

import (
	"errors"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
)

// ErrUnsupportedFormat signals an output format no encoder handles.
var ErrUnsupportedFormat = errors.New("unsupported output format")

// Encoder writes page images in one output format.
type Encoder struct {
	Format      imaging.Format
	JPEGQuality int
}

// NewEncoder resolves a format name such as "png", "JPG" or "tiff".
func NewEncoder(format string, jpegQuality int) (*Encoder, error) {
	f, err := imaging.FormatFromExtension(format)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return &Encoder{Format: f, JPEGQuality: jpegQuality}, nil
}

// Save encodes img into a new file at path.
func (e *Encoder) Save(img image.Image, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var opts []imaging.EncodeOption
	if e.JPEGQuality > 0 {
		opts = append(opts, imaging.JPEGQuality(e.JPEGQuality))
	}
	return imaging.Encode(f, img, e.Format, opts...)
}
