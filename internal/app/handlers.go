package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zombor/mobile-capture/internal/capture"
	"github.com/zombor/mobile-capture/internal/engine"
	"github.com/zombor/mobile-capture/internal/flexicapture"
	"github.com/zombor/mobile-capture/internal/overlay"
	"github.com/zombor/mobile-capture/internal/settings"
)

const maxUploadSize = int64(50 << 20) // 50MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError maps err to a status code and writes it as a JSON error
func writeError(w http.ResponseWriter, action string, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		slog.Error("Error "+action, "error", err)
	} else {
		slog.Warn("Rejected request", "action", action, "error", err)
	}
	setCORSHeaders(w)
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var serverErr *flexicapture.ServerError
	switch {
	case errors.Is(err, capture.ErrSessionNotFound),
		errors.Is(err, capture.ErrPageNotFound),
		errors.Is(err, ErrPDFNotFound):
		return http.StatusNotFound
	case errors.Is(err, capture.ErrUnknownProfile),
		errors.Is(err, engine.ErrUnknownScenario),
		errors.Is(err, engine.ErrInvalidLanguage),
		errors.Is(err, capture.ErrAspectRatio),
		errors.Is(err, capture.ErrNoPages),
		errors.Is(err, ErrNoProject),
		errors.Is(err, ErrIncomplete),
		errors.Is(err, ErrMissingServerInfo),
		errors.Is(err, flexicapture.ErrMissingURL),
		errors.Is(err, flexicapture.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, capture.ErrPageLimit),
		errors.Is(err, capture.ErrGenerationInProgress),
		errors.Is(err, ErrExportInProgress):
		return http.StatusConflict
	case errors.Is(err, ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrLicenseNotSet),
		errors.Is(err, engine.ErrInvalidLicense):
		return http.StatusServiceUnavailable
	case errors.As(err, &serverErr):
		if serverErr.StatusCode == http.StatusUnauthorized || serverErr.StatusCode == http.StatusForbidden {
			return http.StatusUnauthorized
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleIndex serves the HTML interface
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		corsError(w, "Not found", http.StatusNotFound)
		return
	}
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(indexHTML)
}

// handleListProfiles returns the capture profiles
func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Profiles())
}

// handleEngine returns recognition engine details
func (s *Server) handleEngine(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.EngineInfo())
}

// handleGetAccount returns the stored account
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := s.service.Account()
	if err != nil {
		writeError(w, "reading account", err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// handleSignIn verifies and stores server credentials
func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL      string `json:"url"`
		Tenant   string `json:"tenant"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	projects, err := s.service.SignIn(r.Context(), settings.SignInData{
		URL:      strings.TrimSpace(req.URL),
		Tenant:   strings.TrimSpace(req.Tenant),
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		writeError(w, "signing in", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"projects": projects})
}

// handleSignOut forgets the account
func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SignOut(); err != nil {
		writeError(w, "signing out", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSelectProject sets the export project
func (s *Server) handleSelectProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProjectName string `json:"project_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.service.SelectProject(req.ProjectName); err != nil {
		writeError(w, "selecting project", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListProjects returns the server's projects
func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.service.Projects(r.Context())
	if err != nil {
		writeError(w, "listing projects", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"projects": projects})
}

// handleListSessions returns all capture sessions
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions()
	if err != nil {
		writeError(w, "listing sessions", err)
		return
	}

	// Ensure we always return an array, not nil
	if sessions == nil {
		sessions = []*capture.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleCreateSession starts a capture session
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Profile string `json:"profile"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		corsError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.service.StartSession(req.Profile)
	if err != nil {
		writeError(w, "creating session", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// handleGetSession returns a single session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		writeError(w, "getting session", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handleDeleteSession deletes a session
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteSession(r.PathValue("id")); err != nil {
		writeError(w, "deleting session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddPage handles a page image upload
func (s *Server) handleAddPage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		errorMsg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorMsg = "File is too large. Maximum size is 50MB."
		}
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": errorMsg})
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		setCORSHeaders(w)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file provided"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		setCORSHeaders(w)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Error reading file. Please try again."})
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeForFilename(header.Filename)
	}

	session, err := s.service.AddPage(r.PathValue("id"), data, contentType)
	if err != nil {
		writeError(w, "adding page", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// contentTypeForFilename guesses an image type from a file extension
func contentTypeForFilename(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// pageIndex parses the {index} path value
func pageIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		corsError(w, "Invalid page index", http.StatusBadRequest)
		return 0, false
	}
	return index, true
}

// handleGetPage returns a page image
func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	index, ok := pageIndex(w, r)
	if !ok {
		return
	}
	data, err := s.service.PageImage(r.PathValue("id"), index)
	if err != nil {
		writeError(w, "getting page", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleDeletePage removes a page
func (s *Server) handleDeletePage(w http.ResponseWriter, r *http.Request) {
	index, ok := pageIndex(w, r)
	if !ok {
		return
	}
	session, err := s.service.RemovePage(r.PathValue("id"), index)
	if err != nil {
		writeError(w, "deleting page", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// handlePageText returns the recognized text of a page
func (s *Server) handlePageText(w http.ResponseWriter, r *http.Request) {
	index, ok := pageIndex(w, r)
	if !ok {
		return
	}
	languages, err := engine.ParseLanguages(r.URL.Query().Get("languages"))
	if err != nil {
		writeError(w, "recognizing text", err)
		return
	}
	text, err := s.service.PageText(r.Context(), r.PathValue("id"), index, languages)
	if err != nil {
		writeError(w, "recognizing text", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

// handleListScenarios returns the data capture presets
func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, engine.Scenarios())
}

// handlePageFields returns the fields a scenario finds on a page
func (s *Server) handlePageFields(w http.ResponseWriter, r *http.Request) {
	index, ok := pageIndex(w, r)
	if !ok {
		return
	}
	languages, err := engine.ParseLanguages(r.URL.Query().Get("languages"))
	if err != nil {
		writeError(w, "extracting fields", err)
		return
	}
	fields, err := s.service.PageFields(r.Context(), r.PathValue("id"), index, r.URL.Query().Get("scenario"), languages)
	if err != nil {
		writeError(w, "extracting fields", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fields": fields})
}

// handlePageOverlay renders the quality overlay for a page
func (s *Server) handlePageOverlay(w http.ResponseWriter, r *http.Request) {
	index, ok := pageIndex(w, r)
	if !ok {
		return
	}
	size, err := viewSize(r)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	boundary, err := parseBoundary(r.URL.Query().Get("boundary"))
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := s.service.PageOverlay(r.Context(), r.PathValue("id"), index, size, boundary)
	if err != nil {
		writeError(w, "rendering overlay", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// handleProgress renders the progress indicator for a session
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	size, err := viewSize(r)
	if err != nil {
		corsError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if size.X <= 0 || size.Y <= 0 {
		size = image.Pt(200, 40)
	}

	var stability *overlay.Stability
	if value := r.URL.Query().Get("stability"); value != "" {
		parsed, err := overlay.ParseStability(value)
		if err != nil {
			corsError(w, err.Error(), http.StatusBadRequest)
			return
		}
		stability = &parsed
	}

	data, err := s.service.SessionProgress(r.PathValue("id"), stability, size)
	if err != nil {
		writeError(w, "rendering progress", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(data)
}

// viewSize reads the optional w and h query parameters
func viewSize(r *http.Request) (image.Point, error) {
	var size image.Point
	for name, dst := range map[string]*int{"w": &size.X, "h": &size.Y} {
		value := r.URL.Query().Get(name)
		if value == "" {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 || n > 8192 {
			return image.Point{}, fmt.Errorf("invalid %s %q", name, value)
		}
		*dst = n
	}
	return size, nil
}

// parseBoundary parses "x1,y1,x2,y2,..." into points
func parseBoundary(value string) ([]image.Point, error) {
	if value == "" {
		return nil, nil
	}
	fields := strings.Split(value, ",")
	if len(fields)%2 != 0 || len(fields) < 6 {
		return nil, fmt.Errorf("boundary needs at least three x,y points")
	}
	points := make([]image.Point, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		x, errX := strconv.Atoi(strings.TrimSpace(fields[i]))
		y, errY := strconv.Atoi(strings.TrimSpace(fields[i+1]))
		if errX != nil || errY != nil {
			return nil, fmt.Errorf("invalid boundary point %q,%q", fields[i], fields[i+1])
		}
		points = append(points, image.Pt(x, y))
	}
	return points, nil
}

// handleGeneratePDF builds the PDF for a session
func (s *Server) handleGeneratePDF(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.GeneratePDF(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, "generating pdf", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// handleGetPDF serves a generated PDF
func (s *Server) handleGetPDF(w http.ResponseWriter, r *http.Request) {
	path, err := s.service.PDFFile(r.PathValue("id"))
	if err != nil {
		writeError(w, "getting pdf", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// handleExport starts uploading a session to the selected project
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Export(r.PathValue("id"))
	if err != nil {
		writeError(w, "exporting", err)
		return
	}
	writeJSON(w, http.StatusAccepted, state)
}

// handleGetExport returns the export state of a session
func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	state, ok := s.service.ExportState(r.PathValue("id"))
	if !ok {
		corsError(w, "No export for this session", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, state)
}
