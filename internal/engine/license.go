package engine

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// License holds the raw contents of an engine license file
type License struct {
	Path string
	Data []byte
}

// LoadLicense reads a license file. Missing, unreadable, and empty files are invalid.
func LoadLicense(path string) (*License, error) {
	if path == "" {
		return nil, ErrLicenseNotSet
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrInvalidLicense, path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", ErrInvalidLicense, path)
	}
	return &License{Path: path, Data: data}, nil
}

// Key returns the license contents as a single trimmed token
func (l *License) Key() string {
	return strings.TrimSpace(string(l.Data))
}
