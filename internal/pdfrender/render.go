/**
 * PDF page renderer
 *
 * Renders every page of a PDF to a bitmap with MuPDF (go-fitz), so vector
 * text, line art and images in any encoding MuPDF understands all end up in
 * the page image. Kept in its own package so the cgo dependency stays out of
 * packages that never see a PDF.
 */

package pdfrender

import (
	"context"
	"fmt"
	"image"
	"io"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI matches the resolution scanned pages are usually produced at.
const DefaultDPI = 200

// PageFunc receives each rendered page in order, indexed from 0.
type PageFunc func(index int, page image.Image) error

// Renderer renders PDF pages at a fixed resolution
type Renderer struct {
	dpi float64
}

// New creates a renderer; dpi <= 0 uses DefaultDPI.
func New(dpi float64) *Renderer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Renderer{dpi: dpi}
}

// DPI reports the rendering resolution.
func (r *Renderer) DPI() float64 {
	return r.dpi
}

// Render opens the PDF read from src and calls fn once per page, in page
// order. It returns the page count. Pages are rendered one at a time so only
// one bitmap is held in memory.
func (r *Renderer) Render(ctx context.Context, src io.Reader, fn PageFunc) (int, error) {
	doc, err := fitz.NewFromReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count == 0 {
		return 0, fmt.Errorf("PDF has no pages")
	}

	for i := 0; i < count; i++ {
		select {
		case <-ctx.Done():
			return i, ctx.Err()
		default:
		}

		img, err := doc.ImageDPI(i, r.dpi)
		if err != nil {
			return i, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		if err := fn(i, img); err != nil {
			return i, err
		}
	}
	return count, nil
}
