// Package store provides storage backends for SurveyPipe.
//
// It defines the Store interface over survey sessions, response audit
// records, and opt-outs, with SQLite and PostgreSQL implementations plus an
// in-memory store for tests. Mutated sessions and their audit records are
// committed atomically.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// Store defines the persistence operations required by the survey engine's
// collaborators. Callers must serialize processing per sender so that two
// near-simultaneous messages cannot mutate the same session concurrently;
// CommitResult then persists the session and audit record in one transaction.
type Store interface {
	// GetActiveSession returns the most recent incomplete session for the
	// sender and survey, or nil if none exists.
	GetActiveSession(phoneHash, surveyID string) (*models.SurveySession, error)

	// CreateSession persists a brand-new session.
	CreateSession(session *models.SurveySession) error

	// CommitResult atomically saves the mutated session and appends the
	// response audit record (which may be nil for pure state updates).
	CommitResult(session *models.SurveySession, record *models.SurveyResponse) error

	// GetResponses returns all audit records for a survey, oldest first.
	GetResponses(surveyID string) ([]models.SurveyResponse, error)

	// AddOptOut records that a sender asked to stop receiving messages.
	AddOptOut(optOut models.OptOut) error

	// RemoveOptOut clears a sender's opt-out (START keyword).
	RemoveOptOut(phoneHash string) error

	// IsOptedOut reports whether a sender has opted out.
	IsOptedOut(phoneHash string) (bool, error)

	// ExpireStaleSessions marks incomplete sessions of the given survey not
	// updated since the cutoff as completed, returning how many were expired.
	ExpireStaleSessions(surveyID string, cutoff time.Time) (int, error)

	// GetSessionStats summarizes session and response counts.
	GetSessionStats() (models.SessionStats, error)

	// Close releases any underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string
}

// Option defines a configuration option for store construction.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets an SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// InMemoryStore is a Store kept entirely in process memory, used in tests
// and local development.
type InMemoryStore struct {
	mu        sync.Mutex
	sessions  map[string]*models.SurveySession
	responses []models.SurveyResponse
	optOuts   map[string]models.OptOut
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*models.SurveySession),
		optOuts:  make(map[string]models.OptOut),
	}
}

// GetActiveSession returns the most recently started incomplete session.
func (s *InMemoryStore) GetActiveSession(phoneHash, surveyID string) (*models.SurveySession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.SurveySession
	for _, sess := range s.sessions {
		if sess.PhoneHash != phoneHash || sess.SurveyID != surveyID || sess.IsCompleted() {
			continue
		}
		if latest == nil || sess.StartedAt.After(latest.StartedAt) {
			latest = sess
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	copied.Context = copyContext(latest.Context)
	return &copied, nil
}

func (s *InMemoryStore) CreateSession(session *models.SurveySession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	copied.Context = copyContext(session.Context)
	s.sessions[session.ID] = &copied
	return nil
}

func (s *InMemoryStore) CommitResult(session *models.SurveySession, record *models.SurveyResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	copied.Context = copyContext(session.Context)
	copied.UpdatedAt = time.Now().UTC()
	s.sessions[session.ID] = &copied
	if record != nil {
		s.responses = append(s.responses, *record)
	}
	return nil
}

func (s *InMemoryStore) GetResponses(surveyID string) ([]models.SurveyResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SurveyResponse
	for _, r := range s.responses {
		sess, ok := s.sessions[r.SessionID]
		if ok && sess.SurveyID == surveyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RespondedAt.Before(out[j].RespondedAt) })
	return out, nil
}

func (s *InMemoryStore) AddOptOut(optOut models.OptOut) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optOuts[optOut.PhoneHash] = optOut
	return nil
}

func (s *InMemoryStore) RemoveOptOut(phoneHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.optOuts, phoneHash)
	return nil
}

func (s *InMemoryStore) IsOptedOut(phoneHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.optOuts[phoneHash]
	return ok, nil
}

func (s *InMemoryStore) ExpireStaleSessions(surveyID string, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for _, sess := range s.sessions {
		if sess.SurveyID == surveyID && !sess.IsCompleted() && sess.UpdatedAt.Before(cutoff) {
			sess.MarkCompleted()
			expired++
		}
	}
	return expired, nil
}

func (s *InMemoryStore) GetSessionStats() (models.SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := models.SessionStats{SessionsBySurvey: make(map[string]int)}
	for _, sess := range s.sessions {
		stats.TotalSessions++
		stats.SessionsBySurvey[sess.SurveyID]++
		if sess.IsCompleted() {
			stats.CompletedSessions++
		} else {
			stats.ActiveSessions++
		}
	}
	stats.TotalResponses = len(s.responses)
	return stats, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func copyContext(ctx map[string]string) map[string]string {
	copied := make(map[string]string, len(ctx))
	for k, v := range ctx {
		copied[k] = v
	}
	return copied
}
