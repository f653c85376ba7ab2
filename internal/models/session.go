// Package models defines the core data structures for SurveyPipe.
//
// This file holds the mutable session state, the append-only response audit
// records, and opt-out tracking.
package models

import "time"

// SurveySession tracks one participant's progress through one survey.
// PhoneHash is an opaque identity key; raw sender addresses never reach the
// engine. Sessions are mutated exclusively by the engine while the store
// holds an exclusive lock on the row.
type SurveySession struct {
	ID                 string            `json:"id"`
	PhoneHash          string            `json:"phone_hash"`
	SurveyID           string            `json:"survey_id"`
	SurveyVersion      string            `json:"survey_version"`
	CurrentStep        string            `json:"current_step"`
	ConsentGiven       bool              `json:"consent_given"`
	ConsentRequestedAt time.Time         `json:"consent_requested_at"`
	ConsentGivenAt     *time.Time        `json:"consent_given_at,omitempty"`
	RetryCount         int               `json:"retry_count"`
	Context            map[string]string `json:"context"`
	StartedAt          time.Time         `json:"started_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty"`
}

// IsCompleted reports whether the session has reached a terminal state.
func (s *SurveySession) IsCompleted() bool {
	return s.CompletedAt != nil
}

// IncrementRetry bumps the per-step retry counter.
func (s *SurveySession) IncrementRetry() {
	s.RetryCount++
}

// ResetRetry clears the per-step retry counter.
func (s *SurveySession) ResetRetry() {
	s.RetryCount = 0
}

// AdvanceStep moves the session to the given step. The retry counter is
// always reset on a step change.
func (s *SurveySession) AdvanceStep(nextStepID string) {
	s.CurrentStep = nextStepID
	s.ResetRetry()
}

// MarkCompleted records completion at the current time.
func (s *SurveySession) MarkCompleted() {
	now := time.Now().UTC()
	s.CompletedAt = &now
}

// GiveConsent sets the consent flag with a timestamp.
func (s *SurveySession) GiveConsent() {
	now := time.Now().UTC()
	s.ConsentGiven = true
	s.ConsentGivenAt = &now
}

// SetContext stores a variable in the session context, overwriting any prior
// value under the same name. Context entries are never implicitly deleted.
func (s *SurveySession) SetContext(key, value string) {
	if s.Context == nil {
		s.Context = make(map[string]string)
	}
	s.Context[key] = value
}

// SurveyResponse is an append-only audit record, one per processed utterance
// including rejected ones. StoredValue is nil for rejected input.
type SurveyResponse struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	StepID      string    `json:"step_id"`
	RawText     string    `json:"raw_text"`
	StoredValue *string   `json:"stored_value,omitempty"`
	Valid       bool      `json:"valid"`
	RespondedAt time.Time `json:"responded_at"`
}

// OptOut records a sender (by hash) who asked to stop receiving messages.
type OptOut struct {
	PhoneHash  string    `json:"phone_hash"`
	Keyword    string    `json:"keyword"`
	OptedOutAt time.Time `json:"opted_out_at"`
}

// SessionStats summarizes session counts for the ops API.
type SessionStats struct {
	TotalSessions     int            `json:"total_sessions"`
	ActiveSessions    int            `json:"active_sessions"`
	CompletedSessions int            `json:"completed_sessions"`
	SessionsBySurvey  map[string]int `json:"sessions_by_survey"`
	TotalResponses    int            `json:"total_responses"`
}
