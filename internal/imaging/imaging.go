package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
)

// NormalizeContentType lowercases and trims a MIME type, defaulting to JPEG
func NormalizeContentType(contentType string) string {
	mimeType := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return mimeType
}

// Decode decodes page data of any supported format into an image.
// PDFs are rendered from their first page.
func Decode(data []byte, contentType string) (image.Image, error) {
	mimeType := NormalizeContentType(contentType)

	if mimeType == "application/pdf" || IsPDF(data) {
		return pdfFirstPage(data)
	}

	// Go's standard image package doesn't support HEIC (common on iPhones)
	if IsHEICFormat(data) || IsHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// EncodePNG encodes an image as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// ToPNG converts PDFs and non-PNG images to PNG.
// Returns the PNG data and whether a conversion happened.
func ToPNG(data []byte, contentType string) ([]byte, bool, error) {
	mimeType := NormalizeContentType(contentType)
	if mimeType == "image/png" && !IsHEICFormat(data) && !IsPDF(data) {
		return data, false, nil
	}

	img, err := Decode(data, mimeType)
	if err != nil {
		return nil, false, err
	}
	pngData, err := EncodePNG(img)
	if err != nil {
		return nil, false, err
	}
	return pngData, true, nil
}

// PDFPageCount returns the number of pages in a PDF file on disk
func PDFPageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

func pdfFirstPage(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// IsPDF checks for the %PDF- magic bytes
func IsPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// IsHEICFormat checks if the image data is in HEIC/HEIF format.
// HEIC files carry an ftyp box at offset 4 with a HEIC-related brand.
func IsHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

// IsHEICMimeType checks if the MIME type indicates HEIC/HEIF format
func IsHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}

// AspectRatio returns long side over short side, or 0 for an empty image
func AspectRatio(bounds image.Rectangle) float64 {
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return 0
	}
	if w < h {
		w, h = h, w
	}
	return float64(w) / float64(h)
}
