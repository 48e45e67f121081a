package engine

import (
	"context"
	"errors"
	"image"
)

var (
	// ErrLicenseNotSet is returned when the engine is requested before a license path was configured
	ErrLicenseNotSet = errors.New("license path is not set")
	// ErrInvalidLicense is returned when the license file is missing, unreadable, or empty
	ErrInvalidLicense = errors.New("invalid license")
)

// BlockType classifies a quality assessment block
type BlockType string

const (
	TextBlock    BlockType = "text"
	UnknownBlock BlockType = "unknown"
)

// Block is a region of a page with an OCR quality estimate
type Block struct {
	Type    BlockType       `json:"type"`
	Rect    image.Rectangle `json:"rect"`
	Quality int             `json:"quality"` // 0-100
}

// Engine is an opaque recognition capability
type Engine interface {
	// RecognizeText returns the text found on a page image
	RecognizeText(ctx context.Context, data []byte, contentType string) (string, error)
	// AssessQuality returns blocks describing how well each region of the page would recognize
	AssessQuality(ctx context.Context, data []byte, contentType string) ([]Block, error)
	// Version identifies the engine implementation
	Version() string
	// Close releases engine resources
	Close() error
}

// Factory constructs an engine once a license has been loaded
type Factory func(license *License) (Engine, error)

func clampQuality(q float64) int {
	switch {
	case q < 0:
		return 0
	case q > 100:
		return 100
	}
	return int(q + 0.5)
}
