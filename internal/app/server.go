package app

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"
)

// Server handles HTTP requests for the capture application
type Server struct {
	service   *Service
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Mobile Capture"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/profiles", s.requireAuth(s.handleListProfiles))
	s.mux.HandleFunc("GET /api/engine", s.requireAuth(s.handleEngine))
	s.mux.HandleFunc("GET /api/scenarios", s.requireAuth(s.handleListScenarios))

	// Account and server
	s.mux.HandleFunc("GET /api/account", s.requireAuth(s.handleGetAccount))
	s.mux.HandleFunc("POST /api/account/signin", s.requireAuth(s.handleSignIn))
	s.mux.HandleFunc("POST /api/account/signout", s.requireAuth(s.handleSignOut))
	s.mux.HandleFunc("PUT /api/account/project", s.requireAuth(s.handleSelectProject))
	s.mux.HandleFunc("GET /api/projects", s.requireAuth(s.handleListProjects))

	// Capture sessions (most specific paths first)
	s.mux.HandleFunc("GET /api/sessions/{id}/pages/{index}/overlay.png", s.requireAuth(s.handlePageOverlay))
	s.mux.HandleFunc("GET /api/sessions/{id}/pages/{index}/text", s.requireAuth(s.handlePageText))
	s.mux.HandleFunc("GET /api/sessions/{id}/pages/{index}/fields", s.requireAuth(s.handlePageFields))
	s.mux.HandleFunc("GET /api/sessions/{id}/pages/{index}", s.requireAuth(s.handleGetPage))
	s.mux.HandleFunc("DELETE /api/sessions/{id}/pages/{index}", s.requireAuth(s.handleDeletePage))
	s.mux.HandleFunc("POST /api/sessions/{id}/pages", s.requireAuth(s.handleAddPage))
	s.mux.HandleFunc("GET /api/sessions/{id}/progress.png", s.requireAuth(s.handleProgress))
	s.mux.HandleFunc("POST /api/sessions/{id}/pdf", s.requireAuth(s.handleGeneratePDF))
	s.mux.HandleFunc("GET /api/sessions/{id}/pdf", s.requireAuth(s.handleGetPDF))
	s.mux.HandleFunc("POST /api/sessions/{id}/export", s.requireAuth(s.handleExport))
	s.mux.HandleFunc("GET /api/sessions/{id}/export", s.requireAuth(s.handleGetExport))
	s.mux.HandleFunc("GET /api/sessions/{id}", s.requireAuth(s.handleGetSession))
	s.mux.HandleFunc("DELETE /api/sessions/{id}", s.requireAuth(s.handleDeleteSession))
	s.mux.HandleFunc("GET /api/sessions", s.requireAuth(s.handleListSessions))
	s.mux.HandleFunc("POST /api/sessions", s.requireAuth(s.handleCreateSession))

	// Static HTML interface (register last as it's the catch-all)
	s.mux.HandleFunc("GET /index.html", s.requireAuth(s.handleIndex))
	s.mux.HandleFunc("GET /", s.requireAuth(s.handleIndex))
}

// Handler returns the mux wrapped with CORS handling, including OPTIONS preflights
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux.ServeHTTP)
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}
