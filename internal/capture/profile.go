package capture

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// DocumentSize is the physical paper size a profile expects
type DocumentSize string

const (
	SizeAny          DocumentSize = "any"
	SizeA4           DocumentSize = "a4"
	SizeLetter       DocumentSize = "letter"
	SizeBusinessCard DocumentSize = "business_card"
)

// Points returns the portrait paper size in PDF points, or false for SizeAny
func (d DocumentSize) Points() (width, height float64, ok bool) {
	switch d {
	case SizeA4:
		return 595.28, 841.89, true
	case SizeLetter:
		return 612, 792, true
	case SizeBusinessCard:
		// 2 x 3.5 in, stored portrait like the other sizes
		return 144, 252, true
	}
	return 0, 0, false
}

// Profile is a named set of capture requirements
type Profile struct {
	Name              string       `json:"name"`
	RequiredPageCount int          `json:"required_page_count"` // 0 means unlimited
	DocumentSize      DocumentSize `json:"document_size"`
	MinAspectRatio    float64      `json:"min_aspect_ratio"`
	MaxAspectRatio    float64      `json:"max_aspect_ratio"` // 0 means unbounded
	StoragePath       string       `json:"storage_path,omitempty"`
}

// DefaultProfiles returns the built-in capture profiles
func DefaultProfiles() []Profile {
	return []Profile{
		{Name: "Unknown Set", RequiredPageCount: 0, DocumentSize: SizeAny, MinAspectRatio: 1, MaxAspectRatio: 0},
		{Name: "A4 Document", RequiredPageCount: 0, DocumentSize: SizeA4},
		{Name: "One Business Card", RequiredPageCount: 1, DocumentSize: SizeBusinessCard, MinAspectRatio: 1.38, MaxAspectRatio: 2.09},
	}
}

// AcceptsAspectRatio reports whether a page with the given long/short side ratio fits the profile
func (p Profile) AcceptsAspectRatio(ratio float64) bool {
	if p.MinAspectRatio == 0 && p.MaxAspectRatio == 0 {
		return true
	}
	if ratio < p.MinAspectRatio {
		return false
	}
	if p.MaxAspectRatio > 0 && ratio > p.MaxAspectRatio {
		return false
	}
	return true
}

// Directory returns the profile's output directory relative to the storage root
func (p Profile) Directory() string {
	if p.StoragePath != "" {
		return filepath.Clean(p.StoragePath)
	}
	return sanitizeName(p.Name, "profile")
}

// Validate checks the profile for configuration errors
func (p Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("profile name is required")
	}
	if p.RequiredPageCount < 0 {
		return fmt.Errorf("profile %q: required page count must not be negative", p.Name)
	}
	if p.MinAspectRatio < 0 || p.MaxAspectRatio < 0 {
		return fmt.Errorf("profile %q: aspect ratios must not be negative", p.Name)
	}
	if p.MaxAspectRatio > 0 && p.MinAspectRatio > p.MaxAspectRatio {
		return fmt.Errorf("profile %q: min aspect ratio exceeds max", p.Name)
	}
	switch p.DocumentSize {
	case SizeAny, SizeA4, SizeLetter, SizeBusinessCard, "":
	default:
		return fmt.Errorf("profile %q: unknown document size %q", p.Name, p.DocumentSize)
	}
	if p.StoragePath != "" {
		clean := filepath.Clean(p.StoragePath)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Errorf("profile %q: storage path must stay inside the storage directory", p.Name)
		}
		// Dot directories, PageDirectory among them, are reserved
		if strings.HasPrefix(clean, ".") {
			return fmt.Errorf("profile %q: storage path %q is reserved", p.Name, p.StoragePath)
		}
	}
	return nil
}
