/**
 * Tesseract OCR - local engine for offline runs
 *
 * Recognizes page images on the host with Tesseract instead of submitting
 * them to the remote OCR model. Selected with OCR_ENGINE=tesseract.
 */

package ocr

import (
	"context"
	"fmt"
	"time"

	"github.com/adverant/nexus/docintel/internal/logging"
	"github.com/otiai10/gosseract/v2"
)

// TesseractOCR handles OCR using a local Tesseract installation
type TesseractOCR struct {
	languages []string
	logger    *logging.Logger
}

// TesseractConfig holds Tesseract configuration
type TesseractConfig struct {
	Languages []string
}

// NewTesseractOCR creates a new Tesseract OCR instance
func NewTesseractOCR(cfg *TesseractConfig) *TesseractOCR {
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = []string{"eng"}
	}
	return &TesseractOCR{
		languages: langs,
		logger:    logging.NewLogger("TesseractOCR"),
	}
}

// Version reports the linked Tesseract version.
func Version() string {
	return gosseract.Version()
}

// Recognize extracts the text of one page image.
func (t *TesseractOCR) Recognize(ctx context.Context, imagePath string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	startTime := time.Now()

	client := gosseract.NewClient()
	defer client.Close()

	if err := client.SetLanguage(t.languages...); err != nil {
		return "", fmt.Errorf("failed to set languages %v: %w", t.languages, err)
	}
	if err := client.SetImage(imagePath); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return "", fmt.Errorf("tesseract OCR failed: %w", err)
	}

	t.logger.Debug("Page recognized", "image", imagePath, "characters", len(text), "duration", time.Since(startTime))
	return text, nil
}
