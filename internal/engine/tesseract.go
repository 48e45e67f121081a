package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/zombor/mobile-capture/internal/imaging"
)

// Tesseract implements Engine on top of a local Tesseract installation.
// The underlying client is not safe for concurrent use, so calls are serialized.
type Tesseract struct {
	mu        sync.Mutex
	client    *gosseract.Client
	languages []string
}

// TesseractFactory returns a Factory building Tesseract engines for the given languages
func TesseractFactory(languages ...string) Factory {
	return func(_ *License) (Engine, error) {
		return NewTesseract(languages...)
	}
}

// NewTesseract creates a Tesseract engine
func NewTesseract(languages ...string) (*Tesseract, error) {
	if len(languages) == 0 {
		languages = []string{"eng"}
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(languages...); err != nil {
		client.Close()
		return nil, fmt.Errorf("setting languages: %w", err)
	}
	return &Tesseract{client: client, languages: languages}, nil
}

// RecognizeText performs OCR on a page image
func (t *Tesseract) RecognizeText(ctx context.Context, data []byte, contentType string) (string, error) {
	return t.RecognizeTextIn(ctx, data, contentType, nil)
}

// RecognizeTextIn performs OCR with languages instead of the configured ones
func (t *Tesseract) RecognizeTextIn(ctx context.Context, data []byte, contentType string, languages []string) (string, error) {
	pngData, _, err := imaging.ToPNG(data, contentType)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(languages) > 0 {
		if err := t.client.SetLanguage(languages...); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidLanguage, err)
		}
		defer func() {
			if err := t.client.SetLanguage(t.languages...); err != nil {
				slog.Warn("Failed to restore Tesseract languages", "languages", t.languages, "error", err)
			}
		}()
	}

	if err := t.client.SetImageFromBytes(pngData); err != nil {
		return "", fmt.Errorf("setting image: %w", err)
	}
	text, err := t.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognizing text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// AssessQuality reports Tesseract's layout blocks with their mean confidence
func (t *Tesseract) AssessQuality(ctx context.Context, data []byte, contentType string) ([]Block, error) {
	pngData, _, err := imaging.ToPNG(data, contentType)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.client.SetImageFromBytes(pngData); err != nil {
		return nil, fmt.Errorf("setting image: %w", err)
	}
	boxes, err := t.client.GetBoundingBoxes(gosseract.RIL_BLOCK)
	if err != nil {
		return nil, fmt.Errorf("getting bounding boxes: %w", err)
	}

	blocks := make([]Block, 0, len(boxes))
	for _, b := range boxes {
		block := Block{Type: TextBlock, Rect: b.Box, Quality: clampQuality(b.Confidence)}
		if strings.TrimSpace(b.Word) == "" {
			block.Type = UnknownBlock
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// Version returns the Tesseract library version
func (t *Tesseract) Version() string {
	return "tesseract " + gosseract.Version()
}

// Close releases the Tesseract client
func (t *Tesseract) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.client.Close()
}
