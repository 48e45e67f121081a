package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path"
	"regexp"
	"strings"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrPageNotFound         = errors.New("page not found")
	ErrUnknownProfile       = errors.New("unknown profile")
	ErrAspectRatio          = errors.New("page aspect ratio does not match profile")
	ErrPageLimit            = errors.New("profile page limit reached")
	ErrNoPages              = errors.New("capture result has no pages")
	ErrGenerationInProgress = errors.New("pdf generation already in progress for this capture")
)

// CaptureResult is the ordered set of page images produced by a capture session
type CaptureResult interface {
	// ID identifies the capture, and names its output
	ID() string
	// Profile is the name of the profile the pages were captured with
	Profile() string
	// Pages returns page identifiers in capture order
	Pages() ([]string, error)
	// LoadImage loads the full-size image for a page
	LoadImage(pageID string) (image.Image, error)
}

// sessionResult exposes a stored session as a CaptureResult
type sessionResult struct {
	session *Session
	storage Storage
}

func (r *sessionResult) ID() string      { return r.session.ID }
func (r *sessionResult) Profile() string { return r.session.Profile }

func (r *sessionResult) Pages() ([]string, error) {
	pages := make([]string, len(r.session.PageIDs))
	copy(pages, r.session.PageIDs)
	return pages, nil
}

func (r *sessionResult) LoadImage(pageID string) (image.Image, error) {
	data, err := r.storage.Get(pagePath(r.session.ID, pageID))
	if err != nil {
		return nil, fmt.Errorf("loading page %s: %w", pageID, err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding page %s: %w", pageID, err)
	}
	return img, nil
}

// pagePath is the storage path of a page image
func pagePath(sessionID, pageID string) string {
	return path.Join(sessionID, pageID+".png")
}

var (
	unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces  = regexp.MustCompile(`\s+`)
)

// sanitizeName turns an arbitrary name into a safe single path element
func sanitizeName(name string, fallback string) string {
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = repeatedSpaces.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)

	maxLen := 50
	if len(name) > maxLen {
		name = strings.TrimSpace(name[:maxLen])
	}
	if name == "" {
		name = fallback
	}
	return name
}
