package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"sync"

	"github.com/zombor/mobile-capture/internal/capture"
	"github.com/zombor/mobile-capture/internal/engine"
	"github.com/zombor/mobile-capture/internal/flexicapture"
	"github.com/zombor/mobile-capture/internal/imaging"
	"github.com/zombor/mobile-capture/internal/overlay"
	"github.com/zombor/mobile-capture/internal/settings"
)

var (
	ErrNotAuthorized     = errors.New("not signed in")
	ErrNoProject         = errors.New("no project selected")
	ErrIncomplete        = errors.New("capture is missing required pages")
	ErrExportInProgress  = errors.New("export already in progress for this capture")
	ErrPDFNotFound       = errors.New("pdf has not been generated")
	ErrMissingServerInfo = errors.New("url, username and password are required")
)

// ExportStatus is the lifecycle of a background export
type ExportStatus string

const (
	ExportRunning   ExportStatus = "exporting"
	ExportDone      ExportStatus = "exported"
	ExportFailed    ExportStatus = "failed"
	ExportCancelled ExportStatus = "cancelled"
)

// ExportState reports the latest export of a capture session
type ExportState struct {
	Status   ExportStatus          `json:"status"`
	Progress *capture.ExportStatus `json:"progress,omitempty"`
	Path     string                `json:"path,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Account is the signed-in user as shown to clients. Secrets are never included.
type Account struct {
	settings.SignInData
	settings.UserData
	Authorized bool `json:"authorized"`
}

// EngineInfo describes the recognition engine
type EngineInfo struct {
	Version     string `json:"version"`
	LicensePath string `json:"license_path"`
}

// SessionView is a session together with its completion state
type SessionView struct {
	*capture.Session
	Complete bool `json:"complete"`
}

// Service ties capture sessions, PDF generation, recognition and the
// FlexiCapture server together.
type Service struct {
	sessions   *capture.Sessions
	manager    *capture.Manager
	recognizer *engine.Recognizer
	settings   *settings.Store
	client     *flexicapture.Client

	mu      sync.Mutex
	exports map[string]*ExportState
}

// NewService creates a new Service
func NewService(sessions *capture.Sessions, manager *capture.Manager, recognizer *engine.Recognizer, store *settings.Store, client *flexicapture.Client) *Service {
	return &Service{
		sessions:   sessions,
		manager:    manager,
		recognizer: recognizer,
		settings:   store,
		client:     client,
		exports:    make(map[string]*ExportState),
	}
}

// Profiles returns the configured capture profiles
func (s *Service) Profiles() []capture.Profile {
	return s.manager.Profiles()
}

// EngineInfo returns the engine version and license path
func (s *Service) EngineInfo() EngineInfo {
	return EngineInfo{Version: s.recognizer.Version(), LicensePath: s.recognizer.LicensePath()}
}

// Account returns the stored account state
func (s *Service) Account() (*Account, error) {
	signIn, err := s.settings.SignInData()
	if err != nil {
		return nil, err
	}
	user, err := s.settings.UserData()
	if err != nil {
		return nil, err
	}
	authorized, err := s.settings.Authorized()
	if err != nil {
		return nil, err
	}
	return &Account{SignInData: signIn, UserData: user, Authorized: authorized}, nil
}

// SignIn checks the credentials against the server by listing its projects,
// then stores them along with the issued auth ticket.
func (s *Service) SignIn(ctx context.Context, data settings.SignInData) ([]string, error) {
	if data.URL == "" || data.Username == "" || data.Password == "" {
		return nil, ErrMissingServerInfo
	}
	data.AuthTicket = ""

	ticket, projects, err := s.client.ListProjects(ctx, credentials(data))
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	data.AuthTicket = ticket
	if err := s.settings.SaveSignInData(data); err != nil {
		return nil, err
	}
	slog.Info("Signed in", "url", data.URL, "tenant", data.Tenant, "user", data.Username, "projects", len(projects))
	return projects, nil
}

// SignOut cancels every running export and server request, then forgets the account
func (s *Service) SignOut() error {
	// Exports are marked first so none can start an upload after the
	// requests below are cancelled.
	s.mu.Lock()
	for id, state := range s.exports {
		if state.Status == ExportRunning {
			s.exports[id] = &ExportState{Status: ExportCancelled}
		}
	}
	s.mu.Unlock()

	s.client.CancelAllRequests()

	if err := s.settings.SignOut(); err != nil {
		return err
	}
	slog.Info("Signed out")
	return nil
}

// Projects lists the projects available to the signed-in user
func (s *Service) Projects(ctx context.Context) ([]string, error) {
	creds, err := s.credentials()
	if err != nil {
		return nil, err
	}
	ticket, projects, err := s.client.ListProjects(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	s.updateTicket(creds, ticket)
	return projects, nil
}

// SelectProject sets the project captures are exported to
func (s *Service) SelectProject(name string) error {
	if _, err := s.credentials(); err != nil {
		return err
	}
	if name == "" {
		return ErrNoProject
	}
	if err := s.settings.SetProjectName(name); err != nil {
		return err
	}
	return s.settings.SetExported(false)
}

// StartSession begins a capture session for a profile
func (s *Service) StartSession(profile string) (*capture.Session, error) {
	return s.sessions.Start(profile)
}

// ListSessions returns all capture sessions
func (s *Service) ListSessions() ([]*capture.Session, error) {
	return s.sessions.List()
}

// GetSession returns a session with its completion state
func (s *Service) GetSession(id string) (*SessionView, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return nil, err
	}
	complete, err := s.sessions.Complete(id)
	if err != nil {
		return nil, err
	}
	return &SessionView{Session: session, Complete: complete}, nil
}

// DeleteSession removes a session, its pages and its PDF
func (s *Service) DeleteSession(id string) error {
	result, err := s.sessions.Result(id)
	if err != nil {
		return err
	}
	if path, err := s.manager.PDFPath(result); err == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to delete pdf", "path", path, "error", err)
		}
	}
	if err := s.sessions.Delete(id); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.exports, id)
	s.mu.Unlock()
	return nil
}

// AddPage appends a page image to a session
func (s *Service) AddPage(id string, data []byte, contentType string) (*capture.Session, error) {
	return s.sessions.AddPage(id, data, contentType)
}

// RemovePage removes the page at index
func (s *Service) RemovePage(id string, index int) (*capture.Session, error) {
	return s.sessions.RemovePage(id, index)
}

// PageImage returns the PNG of the page at index
func (s *Service) PageImage(id string, index int) ([]byte, error) {
	return s.sessions.PageImage(id, index)
}

// PageText runs text recognition on a page. Empty languages use the
// engine's configured ones.
func (s *Service) PageText(ctx context.Context, id string, index int, languages []string) (string, error) {
	data, err := s.sessions.PageImage(id, index)
	if err != nil {
		return "", err
	}
	eng, err := s.recognizer.Engine()
	if err != nil {
		return "", err
	}
	text, err := engine.RecognizeTextIn(ctx, eng, data, "image/png", languages)
	if err != nil {
		return "", fmt.Errorf("recognizing text: %w", err)
	}
	return text, nil
}

// PageFields recognizes a page in the scenario's languages, or in languages
// when given, and returns the fields the scenario finds in the text.
func (s *Service) PageFields(ctx context.Context, id string, index int, scenarioName string, languages []string) ([]engine.Field, error) {
	scenario, err := engine.ScenarioByName(scenarioName)
	if err != nil {
		return nil, err
	}
	if len(languages) == 0 {
		languages = scenario.Languages
	}
	text, err := s.PageText(ctx, id, index, languages)
	if err != nil {
		return nil, err
	}
	fields := scenario.Extract(text)
	slog.Debug("Extracted page fields", "session", id, "page", index, "scenario", scenario.Name, "fields", len(fields))
	return fields, nil
}

// PageOverlay renders the quality assessment of a page as a PNG overlay of
// viewSize, or of the page size when viewSize is empty.
func (s *Service) PageOverlay(ctx context.Context, id string, index int, viewSize image.Point, boundary []image.Point) ([]byte, error) {
	data, err := s.sessions.PageImage(id, index)
	if err != nil {
		return nil, err
	}
	img, err := imaging.Decode(data, "image/png")
	if err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	eng, err := s.recognizer.Engine()
	if err != nil {
		return nil, err
	}
	blocks, err := eng.AssessQuality(ctx, data, "image/png")
	if err != nil {
		return nil, fmt.Errorf("assessing quality: %w", err)
	}

	imageSize := img.Bounds().Size()
	if viewSize.X <= 0 || viewSize.Y <= 0 {
		viewSize = imageSize
	}
	results := overlay.NewDrawResults()
	results.SetImageBufferSize(imageSize)
	results.SetDocumentBoundary(boundary)
	results.SetBlocks(blocks)
	return imaging.EncodePNG(results.Render(viewSize))
}

// SessionProgress renders a progress indicator for a session. Without an
// explicit stability the value follows the profile's required page count.
func (s *Service) SessionProgress(id string, stability *overlay.Stability, size image.Point) ([]byte, error) {
	progress := overlay.NewProgress(overlay.DefaultRings)
	if stability != nil {
		progress.SetProgress(overlay.StabilityProgress(*stability), overlay.StabilityColor(*stability))
	} else {
		value, complete, err := s.pageProgress(id)
		if err != nil {
			return nil, err
		}
		c := overlay.StabilityColor(overlay.Tentative)
		if complete {
			c = overlay.StabilityColor(overlay.Stable)
		}
		progress.SetProgress(value, c)
	}
	return imaging.EncodePNG(progress.Render(size))
}

func (s *Service) pageProgress(id string) (int, bool, error) {
	session, err := s.sessions.Get(id)
	if err != nil {
		return 0, false, err
	}
	complete, err := s.sessions.Complete(id)
	if err != nil {
		return 0, false, err
	}
	profile, ok := s.manager.Profile(session.Profile)
	if !ok {
		return 0, false, fmt.Errorf("%w: %s", capture.ErrUnknownProfile, session.Profile)
	}
	if profile.RequiredPageCount == 0 {
		if complete {
			return 100, true, nil
		}
		return 0, false, nil
	}
	return len(session.PageIDs) * 100 / profile.RequiredPageCount, complete, nil
}

type pdfOutcome struct {
	path string
	err  error
}

// GeneratePDF builds the PDF for a session and waits for it
func (s *Service) GeneratePDF(ctx context.Context, id string) (string, error) {
	result, err := s.sessions.Result(id)
	if err != nil {
		return "", err
	}

	done := make(chan pdfOutcome, 1)
	s.manager.GeneratePdfForCaptureResult(result, nil, func(path string, err error) {
		done <- pdfOutcome{path: path, err: err}
	})

	select {
	case outcome := <-done:
		return outcome.path, outcome.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// PDFFile returns the path of a session's generated PDF
func (s *Service) PDFFile(id string) (string, error) {
	result, err := s.sessions.Result(id)
	if err != nil {
		return "", err
	}
	path, err := s.manager.PDFPath(result)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrPDFNotFound
		}
		return "", fmt.Errorf("checking pdf: %w", err)
	}
	return path, nil
}

// Export generates the session's PDF and uploads it to the selected project
// in the background. Progress is reported through ExportState.
func (s *Service) Export(id string) (*ExportState, error) {
	creds, err := s.credentials()
	if err != nil {
		return nil, err
	}
	user, err := s.settings.UserData()
	if err != nil {
		return nil, err
	}
	if user.ProjectName == "" {
		return nil, ErrNoProject
	}
	complete, err := s.sessions.Complete(id)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, ErrIncomplete
	}
	result, err := s.sessions.Result(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if state, ok := s.exports[id]; ok && state.Status == ExportRunning {
		s.mu.Unlock()
		return nil, ErrExportInProgress
	}
	state := &ExportState{Status: ExportRunning}
	s.exports[id] = state
	s.mu.Unlock()

	if err := s.settings.SetExported(false); err != nil {
		slog.Warn("Failed to reset export flag", "error", err)
	}

	project := user.ProjectName
	s.manager.GeneratePdfForCaptureResult(result,
		func(progress capture.ExportStatus) {
			s.setExportProgress(id, state, progress)
		},
		func(path string, err error) {
			if err != nil {
				s.finishExport(id, state, &ExportState{Status: ExportFailed, Error: err.Error()})
				return
			}
			s.upload(id, state, creds, project, path)
		})

	s.mu.Lock()
	defer s.mu.Unlock()
	return state.copy(), nil
}

// upload sends a generated PDF unless the export was cancelled or replaced
// while the PDF was written. The request is registered under s.mu so a
// concurrent SignOut either sees it or prevents it.
func (s *Service) upload(id string, state *ExportState, creds flexicapture.Credentials, project, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exports[id] != state {
		slog.Info("Export cancelled before upload", "session", id)
		return
	}
	s.client.SendFilesAsync(creds, project, []string{path},
		func(ticket string) {
			s.updateTicket(creds, ticket)
			if err := s.settings.SetExported(true); err != nil {
				slog.Error("Failed to record export", "error", err)
			}
			s.finishExport(id, state, &ExportState{Status: ExportDone, Path: path})
		},
		func(err error) {
			s.finishExport(id, state, &ExportState{Status: ExportFailed, Path: path, Error: err.Error()})
		})
}

// ExportState returns the latest export state of a session
func (s *Service) ExportState(id string) (*ExportState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.exports[id]
	if !ok {
		return nil, false
	}
	return state.copy(), true
}

func (s *ExportState) copy() *ExportState {
	c := *s
	if s.Progress != nil {
		p := *s.Progress
		c.Progress = &p
	}
	return &c
}

func (s *Service) setExportProgress(id string, state *ExportState, progress capture.ExportStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exports[id] != state {
		return
	}
	state.Progress = &progress
}

// finishExport records the outcome unless the export was replaced or cancelled meanwhile
func (s *Service) finishExport(id string, state, outcome *ExportState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exports[id] != state {
		return
	}
	outcome.Progress = state.Progress
	s.exports[id] = outcome
	if outcome.Status == ExportFailed {
		slog.Error("Export failed", "session", id, "error", outcome.Error)
	} else {
		slog.Info("Export finished", "session", id, "path", outcome.Path)
	}
}

func (s *Service) credentials() (flexicapture.Credentials, error) {
	authorized, err := s.settings.Authorized()
	if err != nil {
		return flexicapture.Credentials{}, err
	}
	if !authorized {
		return flexicapture.Credentials{}, ErrNotAuthorized
	}
	data, err := s.settings.SignInData()
	if err != nil {
		return flexicapture.Credentials{}, err
	}
	return credentials(data), nil
}

func (s *Service) updateTicket(creds flexicapture.Credentials, ticket string) {
	if ticket == "" || ticket == creds.AuthTicket {
		return
	}
	if err := s.settings.SetAuthTicket(ticket); err != nil {
		slog.Warn("Failed to store auth ticket", "error", err)
	}
}

func credentials(data settings.SignInData) flexicapture.Credentials {
	return flexicapture.Credentials{
		URL:        data.URL,
		Tenant:     data.Tenant,
		Username:   data.Username,
		Password:   data.Password,
		AuthTicket: data.AuthTicket,
	}
}
