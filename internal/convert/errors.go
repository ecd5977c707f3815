package convert

import (
	"errors"
	"os"

	"pdf2image/internal/rasterizer"
)

// Kind classifies conversion failures. All kinds surface to clients the same
// way; the distinction exists for logs and tests.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindUpstream
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindUpstream:
		return "upstream_failure"
	case KindResource:
		return "resource_failure"
	default:
		return "unknown"
	}
}

// Error is a classified conversion failure. Its message is the message of
// the underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

func invalidInput(op string, err error) error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: err}
}

func resourceFailure(op string, err error) error {
	return &Error{Kind: KindResource, Op: op, Err: err}
}

// classifyRasterError maps rasterizer failures onto kinds.
func classifyRasterError(err error) error {
	switch {
	case errors.Is(err, rasterizer.ErrPageOutOfRange):
		return &Error{Kind: KindInvalidInput, Op: "rasterize", Err: err}
	case errors.Is(err, os.ErrPermission), errors.Is(err, os.ErrNotExist):
		return &Error{Kind: KindResource, Op: "rasterize", Err: err}
	default:
		return &Error{Kind: KindUpstream, Op: "rasterize", Err: err}
	}
}
