package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/zombor/mobile-capture/internal/dispatch"
	"github.com/zombor/mobile-capture/internal/imaging"
)

// ExportAction is the step a PDF export is currently performing
type ExportAction string

const (
	ActionFetching ExportAction = "fetching"
	ActionWriting  ExportAction = "writing"
)

// ExportStatus reports PDF export progress
type ExportStatus struct {
	PagesProcessed int          `json:"pages_processed"`
	PagesCount     int          `json:"pages_count"`
	Action         ExportAction `json:"action"`
}

// PDFCompletion receives the outcome of an asynchronous PDF generation.
// Exactly one of path and err is set.
type PDFCompletion func(path string, err error)

// Option configures a Manager
type Option func(*Manager)

// WithPageSizing sets the PDF page sizing policy
func WithPageSizing(sizing PageSizing) Option {
	return func(m *Manager) { m.sizing = sizing }
}

// WithDPI sets the resolution used to convert image pixels to PDF points
func WithDPI(dpi float64) Option {
	return func(m *Manager) {
		if dpi > 0 {
			m.dpi = dpi
		}
	}
}

// WithMaxPageDimension downscales pages whose longer side exceeds max pixels. 0 disables.
func WithMaxPageDimension(max int) Option {
	return func(m *Manager) { m.maxDimension = max }
}

// WithTimeSource sets the clock used for document metadata
func WithTimeSource(t TimeSource) Option {
	return func(m *Manager) { m.timeSource = t }
}

// WithPageCounter replaces the check run on every written PDF
func WithPageCounter(count func(path string) (int, error)) Option {
	return func(m *Manager) { m.countPages = count }
}

// Manager owns the capture profiles and turns capture results into PDF files
type Manager struct {
	storagePath  string
	profiles     []Profile
	queue        *dispatch.Queue
	sizing       PageSizing
	dpi          float64
	maxDimension int
	timeSource   TimeSource
	countPages   func(path string) (int, error)

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewManager creates the storage directory and validates the profiles
func NewManager(storagePath string, profiles []Profile, queue *dispatch.Queue, opts ...Option) (*Manager, error) {
	if storagePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate profile %q", p.Name)
		}
		seen[p.Name] = true
	}
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	m := &Manager{
		storagePath:  storagePath,
		profiles:     append([]Profile(nil), profiles...),
		queue:        queue,
		sizing:       SizeToProfile,
		dpi:          150,
		maxDimension: 3000,
		timeSource:   &defaultTimeSource{},
		countPages:   imaging.PDFPageCount,
		inFlight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StoragePath returns the root directory for generated documents
func (m *Manager) StoragePath() string {
	return m.storagePath
}

// Profiles returns a copy of the configured profiles
func (m *Manager) Profiles() []Profile {
	return append([]Profile(nil), m.profiles...)
}

// Profile looks up a profile by name
func (m *Manager) Profile(name string) (Profile, bool) {
	for _, p := range m.profiles {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// PDFPath returns where the PDF for a capture result is written
func (m *Manager) PDFPath(result CaptureResult) (string, error) {
	profile, ok := m.Profile(result.Profile())
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProfile, result.Profile())
	}
	return filepath.Join(m.storagePath, profile.Directory(), sanitizeName(result.ID(), "capture")+".pdf"), nil
}

// GeneratePdfForCaptureResult generates the PDF in the background. Progress
// updates and the single completion call are delivered on the dispatch queue.
func (m *Manager) GeneratePdfForCaptureResult(result CaptureResult, progress func(ExportStatus), completion PDFCompletion) {
	var report func(ExportStatus)
	if progress != nil {
		report = func(status ExportStatus) {
			m.deliver(func() { progress(status) })
		}
	}

	go func() {
		path, err := m.GeneratePDF(context.Background(), result, report)
		m.deliver(func() { completion(path, err) })
	}()
}

// deliver runs fn on the dispatch queue, or inline when there is no running queue
func (m *Manager) deliver(fn func()) {
	if m.queue == nil || !m.queue.Async(fn) {
		fn()
	}
}

// GeneratePDF writes every page of result, in order, to a single PDF and
// returns its path. On error no file is left behind.
func (m *Manager) GeneratePDF(ctx context.Context, result CaptureResult, progress func(ExportStatus)) (string, error) {
	if !m.begin(result.ID()) {
		return "", ErrGenerationInProgress
	}
	defer m.end(result.ID())

	profile, ok := m.Profile(result.Profile())
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownProfile, result.Profile())
	}
	outPath, err := m.PDFPath(result)
	if err != nil {
		return "", err
	}

	pages, err := result.Pages()
	if err != nil {
		return "", fmt.Errorf("listing pages: %w", err)
	}
	if len(pages) == 0 {
		return "", ErrNoPages
	}

	report := func(processed int, action ExportAction) {
		if progress != nil {
			progress(ExportStatus{PagesProcessed: processed, PagesCount: len(pages), Action: action})
		}
	}

	writer := newPDFWriter(m.sizing, profile.DocumentSize, m.dpi, m.maxDimension, m.timeSource.Now())
	for i, pageID := range pages {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		report(i, ActionFetching)
		img, err := result.LoadImage(pageID)
		if err != nil {
			return "", fmt.Errorf("fetching page %d: %w", i+1, err)
		}

		report(i, ActionWriting)
		if err := writer.AddPage(img); err != nil {
			return "", err
		}
	}

	if err := m.writeFile(outPath, writer, len(pages)); err != nil {
		return "", err
	}
	slog.Info("PDF generated", "capture", result.ID(), "profile", profile.Name, "pages", len(pages), "path", outPath)
	return outPath, nil
}

// writeFile writes to a temp file next to path and renames it into place
// only after the page count has been verified.
func (m *Manager) writeFile(path string, writer *pdfWriter, pages int) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".capture-*.pdf")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				slog.Warn("Failed to remove partial PDF", "path", tmpPath, "error", rmErr)
			}
		}
	}()

	if err = writer.WriteTo(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	count, err := m.countPages(tmpPath)
	if err != nil {
		return fmt.Errorf("verifying pdf: %w", err)
	}
	if count != pages {
		err = fmt.Errorf("verifying pdf: wrote %d pages, want %d", count, pages)
		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("moving pdf into place: %w", err)
	}
	return nil
}

func (m *Manager) begin(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inFlight[id]; busy {
		return false
	}
	m.inFlight[id] = struct{}{}
	return true
}

func (m *Manager) end(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inFlight, id)
}
