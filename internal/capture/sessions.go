package capture

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/mobile-capture/internal/imaging"
)

// IDGenerator generates unique IDs for sessions and pages
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ProfileLookup resolves profile names
type ProfileLookup interface {
	Profile(name string) (Profile, bool)
}

// Sessions manages capture sessions and their page images
type Sessions struct {
	db          DB
	storage     Storage
	profiles    ProfileLookup
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewSessions creates a new Sessions service with UUID IDs and the wall clock
func NewSessions(db DB, storage Storage, profiles ProfileLookup) *Sessions {
	return NewSessionsWithDeps(db, storage, profiles, &uuidGenerator{}, &defaultTimeSource{})
}

// NewSessionsWithDeps creates a new Sessions service with custom dependencies for testing
func NewSessionsWithDeps(db DB, storage Storage, profiles ProfileLookup, idGen IDGenerator, timeSrc TimeSource) *Sessions {
	return &Sessions{
		db:          db,
		storage:     storage,
		profiles:    profiles,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// Start begins a new capture session for a profile
func (s *Sessions) Start(profileName string) (*Session, error) {
	if _, ok := s.profiles.Profile(profileName); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, profileName)
	}

	now := s.timeSource.Now()
	session := &Session{
		ID:        s.idGenerator.Generate(),
		Profile:   profileName,
		PageIDs:   []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.SaveSession(session); err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	return session, nil
}

// Get retrieves a session by ID
func (s *Sessions) Get(id string) (*Session, error) {
	session, err := s.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return session, nil
}

// List returns all sessions
func (s *Sessions) List() ([]*Session, error) {
	sessions, err := s.db.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// AddPage checks a captured page against the session's profile and appends it
func (s *Sessions) AddPage(id string, data []byte, contentType string) (*Session, error) {
	session, err := s.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	profile, ok := s.profiles.Profile(session.Profile)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProfile, session.Profile)
	}
	if profile.RequiredPageCount > 0 && len(session.PageIDs) >= profile.RequiredPageCount {
		return nil, fmt.Errorf("%w: %d of %d", ErrPageLimit, len(session.PageIDs), profile.RequiredPageCount)
	}

	img, err := imaging.Decode(data, contentType)
	if err != nil {
		return nil, fmt.Errorf("decoding page: %w", err)
	}
	ratio := imaging.AspectRatio(img.Bounds())
	if !profile.AcceptsAspectRatio(ratio) {
		return nil, fmt.Errorf("%w: %.2f", ErrAspectRatio, ratio)
	}

	pngData, err := imaging.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	pageID := s.idGenerator.Generate()
	savedPath, err := s.storage.Save(pagePath(session.ID, pageID), pngData)
	if err != nil {
		return nil, fmt.Errorf("saving page: %w", err)
	}

	// The limit is checked again under the write transaction since other
	// pages may have been added while this one was decoded.
	updated, err := s.db.UpdateSession(id, func(current *Session) error {
		if profile.RequiredPageCount > 0 && len(current.PageIDs) >= profile.RequiredPageCount {
			return fmt.Errorf("%w: %d of %d", ErrPageLimit, len(current.PageIDs), profile.RequiredPageCount)
		}
		current.PageIDs = append(current.PageIDs, pageID)
		current.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		// Clean up file if the session was not updated
		if delErr := s.storage.Delete(savedPath); delErr != nil {
			slog.Warn("Failed to delete page file", "session", id, "page", pageID, "error", delErr)
		}
		return nil, fmt.Errorf("updating session: %w", err)
	}
	return updated, nil
}

// RemovePage deletes the page at index from a session
func (s *Sessions) RemovePage(id string, index int) (*Session, error) {
	var pageID string
	session, err := s.db.UpdateSession(id, func(session *Session) error {
		if index < 0 || index >= len(session.PageIDs) {
			return fmt.Errorf("%w: index %d", ErrPageNotFound, index)
		}
		pageID = session.PageIDs[index]
		session.PageIDs = append(session.PageIDs[:index], session.PageIDs[index+1:]...)
		session.UpdatedAt = s.timeSource.Now()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}

	if err := s.storage.Delete(pagePath(session.ID, pageID)); err != nil {
		slog.Warn("Failed to delete page file", "session", session.ID, "page", pageID, "error", err)
	}
	return session, nil
}

// PageImage returns the stored PNG for the page at index
func (s *Sessions) PageImage(id string, index int) ([]byte, error) {
	session, err := s.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	if index < 0 || index >= len(session.PageIDs) {
		return nil, fmt.Errorf("%w: index %d", ErrPageNotFound, index)
	}
	data, err := s.storage.Get(pagePath(session.ID, session.PageIDs[index]))
	if err != nil {
		return nil, fmt.Errorf("getting page: %w", err)
	}
	return data, nil
}

// Result returns the session as a CaptureResult
func (s *Sessions) Result(id string) (CaptureResult, error) {
	session, err := s.db.GetSession(id)
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return &sessionResult{session: session, storage: s.storage}, nil
}

// Complete reports whether the session has every page its profile requires
func (s *Sessions) Complete(id string) (bool, error) {
	session, err := s.db.GetSession(id)
	if err != nil {
		return false, fmt.Errorf("getting session: %w", err)
	}
	profile, ok := s.profiles.Profile(session.Profile)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProfile, session.Profile)
	}
	if profile.RequiredPageCount == 0 {
		return len(session.PageIDs) > 0, nil
	}
	return len(session.PageIDs) >= profile.RequiredPageCount, nil
}

// Delete removes a session and its page files
func (s *Sessions) Delete(id string) error {
	session, err := s.db.GetSession(id)
	if err != nil {
		return fmt.Errorf("getting session for deletion: %w", err)
	}

	for _, pageID := range session.PageIDs {
		if err := s.storage.Delete(pagePath(session.ID, pageID)); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete page file", "session", session.ID, "page", pageID, "error", err)
		}
	}

	if err := s.db.DeleteSession(id); err != nil {
		return fmt.Errorf("deleting session from database: %w", err)
	}
	return nil
}
