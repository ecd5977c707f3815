package convert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdf2image/internal/rasterizer"
)

// fakeRaster serves a fixed number of pages and honours page ranges the way
// a real engine does.
type fakeRaster struct {
	pages   int
	err     error
	gotPath string
	gotOpts rasterizer.Options
	sawFile bool
}

func (f *fakeRaster) Rasterize(ctx context.Context, path string, opts rasterizer.Options) ([]image.Image, error) {
	f.gotPath = path
	f.gotOpts = opts
	_, statErr := os.Stat(path)
	f.sawFile = statErr == nil
	if f.err != nil {
		return nil, f.err
	}
	first, last, err := opts.Pages.Resolve(f.pages)
	if err != nil {
		return nil, err
	}
	var out []image.Image
	for n := first; n <= last; n++ {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(0, 0, color.RGBA{R: uint8(n), A: 255})
		out = append(out, img)
	}
	return out, nil
}

type recorderFunc func(ctx context.Context, res *Result) error

func (f recorderFunc) Record(ctx context.Context, res *Result) error { return f(ctx, res) }

func newTestConverter(t *testing.T, raster rasterizer.Rasterizer, opts Options) (*Converter, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "scratch")
	store, err := NewStore(dir)
	require.NoError(t, err)
	store.newID = func() string { return "fixed-id" }
	return New(store, raster, opts), dir
}

func scratchPath(dir string) string {
	return filepath.Join(dir, "fixed-id.pdf")
}

func TestConvert_AllPagesInOrder(t *testing.T) {
	raster := &fakeRaster{pages: 3}
	conv, dir := newTestConverter(t, raster, Options{})

	res, err := conv.Convert(context.Background(), Request{Document: []byte("%PDF-1.7"), Format: "png", DPI: 300})
	require.NoError(t, err)

	assert.False(t, res.Single())
	assert.Equal(t, []string{
		filepath.Join(dir, "fixed-id_page_1.png"),
		filepath.Join(dir, "fixed-id_page_2.png"),
		filepath.Join(dir, "fixed-id_page_3.png"),
	}, res.Paths)
	assert.True(t, raster.gotOpts.Pages.All())
	assert.Equal(t, 300, raster.gotOpts.DPI)
	assert.True(t, raster.sawFile, "scratch document must exist while rasterizing")

	for _, p := range res.Paths {
		_, err := os.Stat(p)
		assert.NoError(t, err, "output %s should persist", p)
	}
	assert.NoFileExists(t, scratchPath(dir))
}

func TestConvert_SinglePageRequest(t *testing.T) {
	raster := &fakeRaster{pages: 5}
	conv, dir := newTestConverter(t, raster, Options{})

	res, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Page: 4, Format: "jpeg", DPI: 72})
	require.NoError(t, err)

	assert.True(t, res.Single())
	assert.Equal(t, rasterizer.Single(4), raster.gotOpts.Pages)
	assert.Equal(t, "image/jpeg", res.ContentType)
	assert.Equal(t, filepath.Join(dir, "fixed-id_page_1.jpeg"), res.Paths[0])
	assert.NoFileExists(t, scratchPath(dir))
}

func TestConvert_OnePageDocumentIsSingle(t *testing.T) {
	conv, _ := newTestConverter(t, &fakeRaster{pages: 1}, Options{})

	res, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "png", DPI: 300})
	require.NoError(t, err)
	assert.True(t, res.Single())
}

func TestConvert_FormatIsUsedVerbatim(t *testing.T) {
	conv, dir := newTestConverter(t, &fakeRaster{pages: 1}, Options{})

	res, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "JPG", DPI: 100})
	require.NoError(t, err)
	assert.Equal(t, "image/JPG", res.ContentType)
	assert.Equal(t, filepath.Join(dir, "fixed-id_page_1.JPG"), res.Paths[0])
}

func TestConvert_PageOutOfRange(t *testing.T) {
	conv, dir := newTestConverter(t, &fakeRaster{pages: 2}, Options{})

	_, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Page: 3, Format: "png", DPI: 300})
	require.Error(t, err)
	assert.ErrorIs(t, err, rasterizer.ErrPageOutOfRange)
	assert.Equal(t, KindInvalidInput, KindOf(err))
	assert.NoFileExists(t, scratchPath(dir))
}

func TestConvert_UpstreamFailureCleansScratch(t *testing.T) {
	raster := &fakeRaster{err: fmt.Errorf("%w: syntax error", rasterizer.ErrUnreadableDocument)}
	conv, dir := newTestConverter(t, raster, Options{})

	_, err := conv.Convert(context.Background(), Request{Document: nil, Format: "png", DPI: 300})
	require.Error(t, err)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.Contains(t, err.Error(), "syntax error")
	assert.True(t, raster.sawFile)
	assert.NoFileExists(t, scratchPath(dir))
}

func TestConvert_NoPages(t *testing.T) {
	conv, dir := newTestConverter(t, &fakeRaster{pages: 0}, Options{})

	_, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "png", DPI: 300})
	require.Error(t, err)
	assert.ErrorIs(t, err, rasterizer.ErrNoPages)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.NoFileExists(t, scratchPath(dir))
}

func TestConvert_InvalidInputs(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{"unsupported format", Request{Format: "webp", DPI: 300}},
		{"empty format", Request{Format: "", DPI: 300}},
		{"zero dpi", Request{Format: "png", DPI: 0}},
		{"negative page", Request{Format: "png", DPI: 300, Page: -1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raster := &fakeRaster{pages: 1}
			conv, dir := newTestConverter(t, raster, Options{})
			_, err := conv.Convert(context.Background(), tc.req)
			require.Error(t, err)
			assert.Equal(t, KindInvalidInput, KindOf(err))
			assert.Empty(t, raster.gotPath, "rasterizer must not run")
			assert.NoFileExists(t, scratchPath(dir))
		})
	}
}

func TestConvert_ScratchWriteFailure(t *testing.T) {
	conv, dir := newTestConverter(t, &fakeRaster{pages: 1}, Options{})
	require.NoError(t, os.RemoveAll(dir))
	// A regular file where the directory should be makes every write fail.
	require.NoError(t, os.WriteFile(dir, []byte("not a dir"), 0o600))

	_, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "png", DPI: 300})
	require.Error(t, err)
	assert.Equal(t, KindResource, KindOf(err))
}

func TestConvert_RecorderSeesResultAndErrorsAreIgnored(t *testing.T) {
	var got *Result
	rec := recorderFunc(func(ctx context.Context, res *Result) error {
		got = res
		return errors.New("ledger down")
	})
	conv, _ := newTestConverter(t, &fakeRaster{pages: 2}, Options{Recorder: rec})

	res, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "png", DPI: 150})
	require.NoError(t, err)
	assert.Same(t, res, got)
}

func TestConvert_TimeoutReachesRasterizer(t *testing.T) {
	raster := rasterFunc(func(ctx context.Context, path string, opts rasterizer.Options) ([]image.Image, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	conv, dir := newTestConverter(t, raster, Options{Timeout: 10 * time.Millisecond})

	_, err := conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "png", DPI: 300})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, KindUpstream, KindOf(err))
	assert.NoFileExists(t, scratchPath(dir))
}

type rasterFunc func(ctx context.Context, path string, opts rasterizer.Options) ([]image.Image, error)

func (f rasterFunc) Rasterize(ctx context.Context, path string, opts rasterizer.Options) ([]image.Image, error) {
	return f(ctx, path, opts)
}

func TestStore_IdentifiersDoNotCollide(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	const n = 200
	var mu sync.Mutex
	seen := make(map[string]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := store.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestConvert_ConcurrentRequestsKeepSeparateFiles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	conv := New(store, &fakeRaster{pages: 2}, Options{})

	const n = 20
	results := make([]*Result, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = conv.Convert(context.Background(), Request{Document: []byte("x"), Format: "png", DPI: 72})
		}(i)
	}
	wg.Wait()

	paths := make(map[string]bool)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		for _, p := range results[i].Paths {
			assert.False(t, paths[p], "duplicate output %s", p)
			paths[p] = true
		}
	}
	assert.Len(t, paths, 2*n)

	matches, err := filepath.Glob(filepath.Join(store.Dir(), "*.pdf"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestScratchRelease_Idempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	sc, err := store.Acquire("abc", []byte("data"))
	require.NoError(t, err)
	assert.FileExists(t, sc.Path)
	require.NoError(t, sc.Release())
	require.NoError(t, sc.Release())
	assert.NoFileExists(t, sc.Path)
}

func TestNewStore_EmptyDir(t *testing.T) {
	_, err := NewStore("")
	assert.Error(t, err)
}

func TestReuse_WritesPageAndRecords(t *testing.T) {
	var got *Result
	rec := recorderFunc(func(ctx context.Context, res *Result) error {
		got = res
		return nil
	})
	conv, dir := newTestConverter(t, &fakeRaster{}, Options{Recorder: rec})

	res, err := conv.Reuse(context.Background(), "jpg", 150, []byte("cached"))
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", res.ID)
	assert.Equal(t, "image/jpg", res.ContentType)
	assert.Equal(t, []string{filepath.Join(dir, "fixed-id_page_1.jpg")}, res.Paths)
	assert.True(t, res.Single())
	assert.Same(t, res, got)

	data, err := os.ReadFile(res.Paths[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("cached"), data)
}

func TestReuse_WriteFailure(t *testing.T) {
	conv, dir := newTestConverter(t, &fakeRaster{}, Options{})
	require.NoError(t, os.RemoveAll(dir))

	_, err := conv.Reuse(context.Background(), "png", 300, []byte("cached"))
	require.Error(t, err)
	assert.Equal(t, KindResource, KindOf(err))
}
