/**
 * Document Rasterizer - uploaded document → ordered page images
 *
 * - PDF: every page is rendered with MuPDF (see pdfrender), so text drawn
 *   as vectors reaches OCR the same way a scanned page does.
 * - Raster images (JPEG/PNG/GIF/TIFF/BMP/WebP) are single-page documents.
 *
 * Every page is flattened onto white, downscaled to the configured maximum
 * dimension and written as <outDir>/<runID>/<base>_page<i>.jpg. Each run owns
 * its directory; Cleanup removes it once the run is over.
 */

package rasterizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/adverant/nexus/docintel/internal/errors"
	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/adverant/nexus/docintel/internal/pdfrender"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const jpegQuality = 90

// PageImage is one rasterized page on disk
type PageImage struct {
	Document string
	Index    int
	Path     string
	Width    int
	Height   int
}

// Key is the page's source key in inference jobs, e.g. "page0".
func (p PageImage) Key() string {
	return PageKey(p.Index)
}

// PageKey formats the zero-based source key for page index i.
func PageKey(i int) string {
	return fmt.Sprintf("page%d", i)
}

// Rasterizer converts documents into JPEG page images
type Rasterizer struct {
	outDir string
	maxDim int
	pdf    *pdfrender.Renderer
	logger *logging.Logger
}

// New creates a rasterizer writing under outDir. maxDimension <= 0 disables downscaling.
func New(outDir string, maxDimension int) *Rasterizer {
	return &Rasterizer{
		outDir: outDir,
		maxDim: maxDimension,
		pdf:    pdfrender.New(pdfrender.DefaultDPI),
		logger: logging.NewLogger("Rasterizer"),
	}
}

// WithDPI sets the resolution PDF pages are rendered at.
func (r *Rasterizer) WithDPI(dpi float64) *Rasterizer {
	r.pdf = pdfrender.New(dpi)
	return r
}

// RunDir is the directory holding the pages of one run.
func (r *Rasterizer) RunDir(runID string) string {
	return filepath.Join(r.outDir, runID)
}

// Rasterize splits the document into page images, in page order, indexed
// from 0, written into the run's own directory. The directory must not exist
// yet; it is removed again if rasterizing fails.
func (r *Rasterizer) Rasterize(ctx context.Context, runID, name string, src io.ReadSeeker) ([]PageImage, error) {
	if err := validRunID(runID); err != nil {
		return nil, apperrors.NewRasterizeFailedError(name, err)
	}

	header := make([]byte, sniffLen)
	n, err := io.ReadFull(src, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, apperrors.NewRasterizeFailedError(name, err)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, apperrors.NewRasterizeFailedError(name, err)
	}

	format := DetectFormat(header[:n])
	if format == "" {
		return nil, apperrors.NewUnsupportedFormatError(name, "unknown")
	}
	r.logger.Info("Rasterizing document", "run", runID, "document", name, "format", format)

	dir := r.RunDir(runID)
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		return nil, apperrors.NewRasterizeFailedError(name, err)
	}
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, apperrors.NewRasterizeFailedError(name, fmt.Errorf("failed to create run directory: %w", err))
	}

	pages, err := r.writePages(ctx, dir, name, format, src)
	if err == nil && len(pages) == 0 {
		err = fmt.Errorf("document has no pages")
	}
	if err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.logger.Warn("Failed to remove run directory", "run", runID, "error", rmErr)
		}
		return nil, apperrors.NewRasterizeFailedError(name, err)
	}

	r.logger.Info("Document rasterized", "run", runID, "document", name, "pages", len(pages))
	return pages, nil
}

// Cleanup removes the run's directory and every page in it.
func (r *Rasterizer) Cleanup(runID string) error {
	if err := validRunID(runID); err != nil {
		return err
	}
	return os.RemoveAll(r.RunDir(runID))
}

func (r *Rasterizer) writePages(ctx context.Context, dir, name, format string, src io.Reader) ([]PageImage, error) {
	base := DocumentBase(name)
	var out []PageImage

	emit := func(i int, img image.Image) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		page := r.flatten(img)
		path := filepath.Join(dir, fmt.Sprintf("%s_page%d.jpg", base, i))
		if err := writeJPEG(path, page); err != nil {
			return err
		}
		b := page.Bounds()
		out = append(out, PageImage{Document: name, Index: i, Path: path, Width: b.Dx(), Height: b.Dy()})
		return nil
	}

	if format == FormatPDF {
		if _, err := r.pdf.Render(ctx, src, emit); err != nil {
			return nil, err
		}
		return out, nil
	}

	img, _, err := image.Decode(src)
	if err != nil {
		return nil, err
	}
	if err := emit(0, img); err != nil {
		return nil, err
	}
	return out, nil
}

// flatten draws img onto a white RGBA canvas no larger than maxDim on either side.
func (r *Rasterizer) flatten(img image.Image) *image.RGBA {
	src := img.Bounds()
	w, h := fitWithin(src.Dx(), src.Dy(), r.maxDim)

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	if w == src.Dx() && h == src.Dy() {
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	}
	return dst
}

// fitWithin scales (w, h) down, preserving aspect ratio, so neither side exceeds limit.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

func writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// validRunID accepts a single path element only.
func validRunID(runID string) error {
	if runID == "" || runID == "." || runID == ".." || strings.ContainsAny(runID, `/\`) {
		return fmt.Errorf("invalid run id %q", runID)
	}
	return nil
}

// DocumentBase derives the file-name stem used for page images: the base name
// up to its first dot, restricted to letters, digits, '-' and '_'.
func DocumentBase(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if i := strings.Index(base, "."); i >= 0 {
		base = base[:i]
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, base)
	if strings.Trim(base, "_") == "" {
		return "document"
	}
	return base
}
