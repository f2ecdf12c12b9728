package pdfrender

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	api.DisableConfigDir()
	os.Exit(m.Run())
}

func whitePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// textPDF builds a one-page PDF whose only dark content is vector text.
func textPDF(t *testing.T) []byte {
	t.Helper()
	var base bytes.Buffer
	require.NoError(t, api.ImportImages(nil, &base, []io.Reader{bytes.NewReader(whitePNG(t, 100, 100))}, nil, nil))

	wm, err := api.TextWatermark("HELLO WORLD", "font:Helvetica, points:48, fillcolor:#000000, op:1, rot:0, scale:0.8", true, false, types.POINTS)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, api.AddWatermarks(bytes.NewReader(base.Bytes()), &out, nil, wm, nil))
	return out.Bytes()
}

func darkPixels(img image.Image) int {
	n := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if color.GrayModel.Convert(img.At(x, y)).(color.Gray).Y < 0x40 {
				n++
			}
		}
	}
	return n
}

func TestRenderKeepsVectorText(t *testing.T) {
	r := New(72)

	var pages []image.Image
	count, err := r.Render(context.Background(), bytes.NewReader(textPDF(t)), func(i int, img image.Image) error {
		assert.Equal(t, len(pages), i)
		pages = append(pages, img)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Len(t, pages, 1)

	assert.Greater(t, darkPixels(pages[0]), 0, "text drawn on the page is rendered")
}

func TestRenderPageCallbackErrorStops(t *testing.T) {
	r := New(36)
	stop := errors.New("stop")

	calls := 0
	_, err := r.Render(context.Background(), bytes.NewReader(textPDF(t)), func(int, image.Image) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestRenderRejectsGarbage(t *testing.T) {
	_, err := New(0).Render(context.Background(), bytes.NewReader([]byte("%PDF-1.7 not really")), func(int, image.Image) error {
		return nil
	})
	assert.Error(t, err)
}

func TestRenderHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(36).Render(ctx, bytes.NewReader(textPDF(t)), func(int, image.Image) error {
		t.Fatal("no page is rendered after cancellation")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewDefaultsDPI(t *testing.T) {
	assert.Equal(t, float64(DefaultDPI), New(0).DPI())
	assert.Equal(t, 150.0, New(150).DPI())
}
