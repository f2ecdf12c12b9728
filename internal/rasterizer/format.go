package rasterizer

import (
	"bytes"
)

// Formats recognised from content
const (
	FormatPDF  = "application/pdf"
	FormatPNG  = "image/png"
	FormatJPEG = "image/jpeg"
	FormatGIF  = "image/gif"
	FormatWebP = "image/webp"
	FormatTIFF = "image/tiff"
	FormatBMP  = "image/bmp"
)

// sniffLen is how many leading bytes DetectFormat needs.
const sniffLen = 16

// DetectFormat detects the document format from magic bytes. Uploads arrive
// with whatever content type the browser guessed, so the header is trusted
// over the declared type. Returns "" for anything that is not a PDF or a
// decodable raster image.
func DetectFormat(data []byte) string {
	if len(data) < 4 {
		return ""
	}

	// PDF: %PDF-
	if bytes.HasPrefix(data, []byte("%PDF")) {
		return FormatPDF
	}

	// PNG: 0x89 'P' 'N' 'G' 0x0D 0x0A 0x1A 0x0A
	if len(data) >= 8 && bytes.HasPrefix(data, []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}) {
		return FormatPNG
	}

	// JPEG: 0xFF 0xD8 0xFF
	if bytes.HasPrefix(data, []byte{0xFF, 0xD8, 0xFF}) {
		return FormatJPEG
	}

	if bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a")) {
		return FormatGIF
	}

	// WebP: 'R' 'I' 'F' 'F' .... 'W' 'E' 'B' 'P'
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && string(data[8:12]) == "WEBP" {
		return FormatWebP
	}

	// TIFF, little- or big-endian
	if bytes.HasPrefix(data, []byte{0x49, 0x49, 0x2A, 0x00}) || bytes.HasPrefix(data, []byte{0x4D, 0x4D, 0x00, 0x2A}) {
		return FormatTIFF
	}

	if bytes.HasPrefix(data, []byte("BM")) {
		return FormatBMP
	}

	return ""
}
