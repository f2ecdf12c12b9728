package rasterizer

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func pngBytes(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func centerGray(img image.Image) uint8 {
	b := img.Bounds()
	return color.GrayModel.Convert(img.At(b.Min.X+b.Dx()/2, b.Min.Y+b.Dy()/2)).(color.Gray).Y
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := jpeg.Decode(f)
	require.NoError(t, err)
	return img
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"pdf", []byte("%PDF-1.7\n"), FormatPDF},
		{"png", []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, FormatPNG},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0}, FormatJPEG},
		{"gif", []byte("GIF89a.."), FormatGIF},
		{"webp", []byte("RIFF\x00\x00\x00\x00WEBPVP8 "), FormatWebP},
		{"tiff", []byte{0x49, 0x49, 0x2A, 0x00}, FormatTIFF},
		{"bmp", []byte("BM\x00\x00\x00\x00"), FormatBMP},
		{"docx", []byte{0x50, 0x4B, 0x03, 0x04}, ""},
		{"text", []byte("hello world"), ""},
		{"short", []byte("%P"), ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DetectFormat(tc.data))
		})
	}
}

func TestRasterizeSingleImage(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 3300)

	pages, err := r.Rasterize(t.Context(), "run-1", "scan.png", bytes.NewReader(pngBytes(t, 40, 30, color.Black)))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, 0, pages[0].Index)
	assert.Equal(t, "page0", pages[0].Key())
	assert.Equal(t, filepath.Join(dir, "run-1", "scan_page0.jpg"), pages[0].Path)

	img := decodeJPEG(t, pages[0].Path)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())
}

func TestRasterizeDownscalesLargePages(t *testing.T) {
	r := New(t.TempDir(), 100)

	pages, err := r.Rasterize(t.Context(), "run-1", "wide.png", bytes.NewReader(pngBytes(t, 400, 200, color.White)))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	assert.Equal(t, 100, pages[0].Width)
	assert.Equal(t, 50, pages[0].Height)
}

func TestRasterizeTransparentImageFlattensToWhite(t *testing.T) {
	r := New(t.TempDir(), 0)

	pages, err := r.Rasterize(t.Context(), "run-1", "clear.png", bytes.NewReader(pngBytes(t, 8, 8, color.Transparent)))
	require.NoError(t, err)

	cr, cg, cb, _ := decodeJPEG(t, pages[0].Path).At(4, 4).RGBA()
	assert.Greater(t, cr, uint32(0xF000))
	assert.Greater(t, cg, uint32(0xF000))
	assert.Greater(t, cb, uint32(0xF000))
}

func TestRasterizeUnsupportedFormat(t *testing.T) {
	r := New(t.TempDir(), 0)

	_, err := r.Rasterize(t.Context(), "run-1", "notes.txt", bytes.NewReader([]byte("plain text, not a scan")))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorUnsupportedFormat))
}

func TestRasterizeCorruptImage(t *testing.T) {
	r := New(t.TempDir(), 0)

	data := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, []byte("garbage")...)
	_, err := r.Rasterize(t.Context(), "run-1", "broken.png", bytes.NewReader(data))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorRasterizeFailed))
}

func TestRasterizePDFKeepsPageOrder(t *testing.T) {
	shades := []color.Color{color.Black, color.White, color.Gray{Y: 0x80}}
	var imgs []io.Reader
	for _, c := range shades {
		imgs = append(imgs, bytes.NewReader(pngBytes(t, 60, 80, c)))
	}
	var pdf bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &pdf, imgs, nil, nil))

	dir := t.TempDir()
	r := New(dir, 0).WithDPI(36)
	pages, err := r.Rasterize(t.Context(), "run-1", "report.v2.pdf", bytes.NewReader(pdf.Bytes()))
	require.NoError(t, err)
	require.Len(t, pages, len(shades))

	for i, p := range pages {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, filepath.Join(dir, "run-1", fmt.Sprintf("report_page%d.jpg", i)), p.Path)
	}

	// the imported image sits in the middle of each page
	first := centerGray(decodeJPEG(t, pages[0].Path))
	second := centerGray(decodeJPEG(t, pages[1].Path))
	assert.Less(t, first, uint8(0x20))
	assert.Greater(t, second, uint8(0xE0))
}

func TestRasterizePDFRendersVectorText(t *testing.T) {
	var base bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &base, []io.Reader{bytes.NewReader(pngBytes(t, 60, 80, color.White))}, nil, nil))
	wm, err := api.TextWatermark("HELLO WORLD", "font:Helvetica, points:48, fillcolor:#000000, op:1, rot:0, scale:0.8", true, false, types.POINTS)
	require.NoError(t, err)
	var pdf bytes.Buffer
	require.NoError(t, api.AddWatermarks(bytes.NewReader(base.Bytes()), &pdf, nil, wm, nil))

	r := New(t.TempDir(), 0).WithDPI(72)
	pages, err := r.Rasterize(t.Context(), "run-1", "letter.pdf", bytes.NewReader(pdf.Bytes()))
	require.NoError(t, err)
	require.Len(t, pages, 1)

	img := decodeJPEG(t, pages[0].Path)
	dark := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 0x40 {
				dark++
			}
		}
	}
	assert.Greater(t, dark, 0, "text on a page without raster images is rendered")
}

func TestRasterizeCorruptPDFRemovesRunDir(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)

	_, err := r.Rasterize(t.Context(), "run-1", "broken.pdf", bytes.NewReader([]byte("%PDF-1.7\nnot a pdf at all")))
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorRasterizeFailed))

	_, err = os.Stat(filepath.Join(dir, "run-1"))
	assert.True(t, os.IsNotExist(err))
}

func TestRasterizeSameNameInConcurrentRuns(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)

	uploads := map[string]color.Color{"run-a": color.Black, "run-b": color.White}
	results := make(map[string][]PageImage)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for runID, c := range uploads {
		data := pngBytes(t, 16, 16, c)
		wg.Add(1)
		go func() {
			defer wg.Done()
			pages, err := r.Rasterize(context.Background(), runID, "scan.png", bytes.NewReader(data))
			assert.NoError(t, err)
			mu.Lock()
			results[runID] = pages
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, results["run-a"], 1)
	require.Len(t, results["run-b"], 1)
	a, b := results["run-a"][0], results["run-b"][0]
	assert.NotEqual(t, a.Path, b.Path)
	assert.Less(t, centerGray(decodeJPEG(t, a.Path)), uint8(0x20))
	assert.Greater(t, centerGray(decodeJPEG(t, b.Path)), uint8(0xE0))

	require.NoError(t, r.Cleanup("run-a"))
	_, err := os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(b.Path)
	assert.NoError(t, err, "cleaning up one run leaves the other's pages")
}

func TestRasterizeRejectsReusedRunID(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)

	first, err := r.Rasterize(t.Context(), "run-1", "a.png", bytes.NewReader(pngBytes(t, 4, 4, color.Black)))
	require.NoError(t, err)

	_, err = r.Rasterize(t.Context(), "run-1", "b.png", bytes.NewReader(pngBytes(t, 4, 4, color.White)))
	require.Error(t, err)

	_, err = os.Stat(first[0].Path)
	assert.NoError(t, err, "the existing run's pages are untouched")
}

func TestRasterizeRejectsUnsafeRunID(t *testing.T) {
	r := New(t.TempDir(), 0)
	for _, runID := range []string{"", ".", "..", "../escape", `a\b`} {
		_, err := r.Rasterize(t.Context(), runID, "a.png", bytes.NewReader(pngBytes(t, 4, 4, color.Black)))
		assert.Error(t, err, runID)
		assert.Error(t, r.Cleanup(runID), runID)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0)
	pages, err := r.Rasterize(t.Context(), "run-1", "a.png", bytes.NewReader(pngBytes(t, 4, 4, color.Black)))
	require.NoError(t, err)

	require.NoError(t, r.Cleanup("run-1"))
	_, err = os.Stat(pages[0].Path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(r.RunDir("run-1"))
	assert.True(t, os.IsNotExist(err))

	// second removal is a no-op
	assert.NoError(t, r.Cleanup("run-1"))
}

func TestDocumentBase(t *testing.T) {
	assert.Equal(t, "invoice", DocumentBase("invoice.pdf"))
	assert.Equal(t, "report", DocumentBase("/tmp/uploads/report.v2.pdf"))
	assert.Equal(t, "my_scan", DocumentBase("my scan.png"))
	assert.Equal(t, "scan", DocumentBase(`C:\Users\me\scan.tif`))
	assert.Equal(t, "document", DocumentBase(".hidden"))
}

func TestFitWithin(t *testing.T) {
	w, h := fitWithin(6600, 5100, 3300)
	assert.Equal(t, 3300, w)
	assert.Equal(t, 2550, h)

	w, h = fitWithin(100, 4000, 1000)
	assert.Equal(t, 25, w)
	assert.Equal(t, 1000, h)

	w, h = fitWithin(200, 100, 0)
	assert.Equal(t, 200, w)
	assert.Equal(t, 100, h)
}
