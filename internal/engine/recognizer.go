package engine

import (
	"fmt"
	"log/slog"
	"sync"
)

// Recognizer lazily constructs and caches the process-wide engine handle
type Recognizer struct {
	factory Factory

	mu          sync.Mutex
	licensePath string
	engine      Engine
}

// NewRecognizer creates a Recognizer that builds engines with factory
func NewRecognizer(factory Factory) *Recognizer {
	return &Recognizer{factory: factory}
}

// SetLicensePath configures the license file. Changing the path drops the cached engine.
func (r *Recognizer) SetLicensePath(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if path == r.licensePath {
		return
	}
	r.licensePath = path
	r.closeLocked()
}

// LicensePath returns the configured license path
func (r *Recognizer) LicensePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.licensePath
}

// Engine returns the cached engine, constructing it on first use.
// Construction failures are returned and not cached.
func (r *Recognizer) Engine() (Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.engine != nil {
		return r.engine, nil
	}
	if r.licensePath == "" {
		return nil, ErrLicenseNotSet
	}

	license, err := LoadLicense(r.licensePath)
	if err != nil {
		return nil, err
	}

	eng, err := r.factory(license)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	slog.Info("Recognition engine initialized", "version", eng.Version(), "license", r.licensePath)
	r.engine = eng
	return eng, nil
}

// Version returns the engine version, or "Unknown" if no engine has been built
func (r *Recognizer) Version() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.engine == nil {
		return "Unknown"
	}
	return r.engine.Version()
}

// Close releases the cached engine
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeLocked()
}

func (r *Recognizer) closeLocked() error {
	if r.engine == nil {
		return nil
	}
	err := r.engine.Close()
	if err != nil {
		slog.Warn("Failed to close recognition engine", "error", err)
	}
	r.engine = nil
	return err
}
