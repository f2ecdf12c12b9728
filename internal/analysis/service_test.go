package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/metrics"
	"github.com/adverant/nexus/docintel/internal/processor"
	"github.com/adverant/nexus/docintel/internal/rasterizer"
	"github.com/adverant/nexus/docintel/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	pages   []rasterizer.PageImage
	existed []bool
	result  func(runID string) *processor.Result
	err     error
}

func (f *fakeRunner) Run(_ context.Context, runID, document string, pages []rasterizer.PageImage, _ processor.Reporter) (*processor.Result, error) {
	f.pages = pages
	for _, p := range pages {
		_, err := os.Stat(p.Path)
		f.existed = append(f.existed, err == nil)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result(runID), nil
}

type recordingHistory struct {
	storage.NopHistory
	sessions []string
	err      error
}

func (h *recordingHistory) RecordRun(_ context.Context, sessionID string, _ *processor.Result) error {
	h.sessions = append(h.sessions, sessionID)
	return h.err
}

func pngDocument(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 10, 10))))
	return buf.Bytes()
}

func completeResult(runID string) *processor.Result {
	lang, summary := "eng", "summary"
	return &processor.Result{
		RunID:    runID,
		Language: &lang,
		Summary:  &summary,
		Topics:   json.RawMessage(`[]`),
		Entities: []processor.Entity{},
	}
}

func newTestService(t *testing.T, runner *fakeRunner, history storage.RunHistory) (*Service, *storage.MemoryStore, string) {
	t.Helper()
	dir := t.TempDir()
	store := storage.NewMemoryStore(0)
	svc, err := NewService(Config{
		Rasterizer: rasterizer.New(dir, 0),
		Pipeline:   runner,
		Store:      store,
		History:    history,
		Metrics:    metrics.New(),
	})
	require.NoError(t, err)
	return svc, store, dir
}

func TestAnalyzeStoresBundleAndRemovesPages(t *testing.T) {
	runner := &fakeRunner{result: completeResult}
	history := &recordingHistory{}
	svc, store, dir := newTestService(t, runner, history)

	res, err := svc.Analyze(context.Background(), "session-1", "scan.png", bytes.NewReader(pngDocument(t)), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)

	require.Len(t, runner.pages, 1)
	assert.Equal(t, []bool{true}, runner.existed, "pages exist while the pipeline runs")
	assert.Equal(t, filepath.Join(dir, res.RunID, "scan_page0.jpg"), runner.pages[0].Path)
	_, err = os.Stat(filepath.Join(dir, res.RunID))
	assert.True(t, os.IsNotExist(err), "the run directory is removed after the run")

	stored, err := store.Load(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, stored.RunID)
	assert.Equal(t, []string{"session-1"}, history.sessions)
}

func TestAnalyzeRasterizeFailureStoresNothing(t *testing.T) {
	runner := &fakeRunner{result: completeResult}
	svc, store, _ := newTestService(t, runner, nil)

	_, err := svc.Analyze(context.Background(), "session-1", "notes.txt", bytes.NewReader([]byte("hello there")), nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorUnsupportedFormat))
	assert.Nil(t, runner.pages)

	_, err = store.Load(context.Background(), "session-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAnalyzeHistoryFailureIsNotFatal(t *testing.T) {
	runner := &fakeRunner{result: completeResult}
	svc, _, _ := newTestService(t, runner, &recordingHistory{err: errors.New("db down")})

	_, err := svc.Analyze(context.Background(), "s", "scan.png", bytes.NewReader(pngDocument(t)), nil)
	assert.NoError(t, err)
}

func TestAnalyzePipelineErrorStillRemovesPages(t *testing.T) {
	runner := &fakeRunner{err: errors.New("no pages")}
	svc, _, dir := newTestService(t, runner, nil)

	_, err := svc.Analyze(context.Background(), "s", "scan.png", bytes.NewReader(pngDocument(t)), nil)
	require.Error(t, err)

	entries, readErr := os.ReadDir(dir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
}

// shadeRunner reports the shade of each run's first page. Every run waits
// until all runs have rasterized, so their pages are on disk at the same time.
type shadeRunner struct {
	arrived sync.WaitGroup
	mu      sync.Mutex
	paths   map[string]string
}

func (s *shadeRunner) Run(_ context.Context, runID, document string, pages []rasterizer.PageImage, _ processor.Reporter) (*processor.Result, error) {
	s.arrived.Done()
	s.arrived.Wait()

	f, err := os.Open(pages[0].Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.paths[runID] = pages[0].Path
	s.mu.Unlock()

	shade := "light"
	if color.GrayModel.Convert(img.At(2, 2)).(color.Gray).Y < 0x80 {
		shade = "dark"
	}
	res := completeResult(runID)
	res.Document = document
	res.Summary = &shade
	return res, nil
}

func shadedPNG(t *testing.T, y uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 10, 10))
	for i := range img.Pix {
		img.Pix[i] = y
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestConcurrentRunsWithSameDocumentName(t *testing.T) {
	runner := &shadeRunner{paths: map[string]string{}}
	runner.arrived.Add(2)
	dir := t.TempDir()
	store := storage.NewMemoryStore(0)
	svc, err := NewService(Config{
		Rasterizer: rasterizer.New(dir, 0),
		Pipeline:   runner,
		Store:      store,
	})
	require.NoError(t, err)

	uploads := map[string][]byte{
		"session-dark":  shadedPNG(t, 0x00),
		"session-light": shadedPNG(t, 0xFF),
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(uploads))
	for session, data := range uploads {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Analyze(context.Background(), session, "scan.png", bytes.NewReader(data), nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	for session, want := range map[string]string{"session-dark": "dark", "session-light": "light"} {
		res, err := store.Load(context.Background(), session)
		require.NoError(t, err)
		assert.Equal(t, want, *res.Summary, "session %s sees only its own page", session)
	}

	require.Len(t, runner.paths, 2)
	var seen []string
	for _, p := range runner.paths {
		assert.NotContains(t, seen, p)
		seen = append(seen, p)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "both run directories are removed")
}

func TestAnalyzeFile(t *testing.T) {
	runner := &fakeRunner{result: completeResult}
	svc, _, _ := newTestService(t, runner, nil)

	path := filepath.Join(t.TempDir(), "letter.png")
	require.NoError(t, os.WriteFile(path, pngDocument(t), 0o644))

	_, err := svc.AnalyzeFile(context.Background(), "cli", path, nil)
	require.NoError(t, err)
	assert.Equal(t, "letter.png", runner.pages[0].Document)

	_, err = svc.AnalyzeFile(context.Background(), "cli", filepath.Join(t.TempDir(), "missing.pdf"), nil)
	assert.Error(t, err)
}

func TestEnsureJobConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "config.json")
	require.NoError(t, EnsureJobConfig(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))

	require.NoError(t, os.WriteFile(path, []byte(`{"lang":"eng"}`), 0o644))
	require.NoError(t, EnsureJobConfig(path))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang":"eng"}`, string(data), "existing config is left alone")
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(Config{})
	assert.Error(t, err)
}
