package convert

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Store is the scratch directory shared by all requests. Names are keyed by a
// fresh identifier per request, so requests never touch each other's files.
type Store struct {
	dir   string
	newID func() string
}

// NewStore creates dir if needed and returns a store rooted there.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("scratch directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create scratch directory: %w", err)
	}
	return &Store{dir: dir, newID: uuid.NewString}, nil
}

// Dir returns the scratch directory path.
func (s *Store) Dir() string {
	return s.dir
}

// NewID returns a fresh request identifier.
func (s *Store) NewID() string {
	return s.newID()
}

// PagePath returns the output location of page n (1-based) for id.
func (s *Store) PagePath(id string, n int, format string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_page_%d.%s", id, n, format))
}

// Scratch is the on-disk copy of one uploaded document.
type Scratch struct {
	ID   string
	Path string
}

// Acquire writes data to <dir>/<id>.pdf. On failure nothing is left behind.
func (s *Store) Acquire(id string, data []byte) (*Scratch, error) {
	path := filepath.Join(s.dir, id+".pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = os.Remove(path)
		return nil, err
	}
	return &Scratch{ID: id, Path: path}, nil
}

// Release deletes the scratch document. A document that is already gone is
// not an error.
func (sc *Scratch) Release() error {
	if err := os.Remove(sc.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
