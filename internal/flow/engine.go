package flow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// Stored values recorded for consent responses
const (
	// ConsentAcceptedValue is recorded when a participant accepts consent
	ConsentAcceptedValue = "accepted"
	// ConsentDeclinedValue is recorded when a participant declines consent
	ConsentDeclinedValue = "declined"
)

// Result is the outcome of processing one inbound utterance: the text to
// send back, whether the session is now complete, and the audit record to
// persist alongside the mutated session.
type Result struct {
	ResponseText string
	Completed    bool
	Record       *models.SurveyResponse
}

// Engine drives the survey conversation state machine. It holds no state of
// its own: each invocation receives an immutable definition, a mutable
// session the caller has exclusive access to, and one raw utterance, and
// returns the response plus records for the caller to commit atomically.
type Engine struct{}

// NewEngine creates a conversation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// ProcessMessage processes one inbound utterance against one session.
// The session is mutated in place; the caller must commit the session and
// the returned audit record atomically, and must discard both when an error
// is returned (a failed utterance never half-advances a session).
func (e *Engine) ProcessMessage(survey *models.Survey, session *models.SurveySession, rawInput string) (*Result, error) {
	if session.IsCompleted() {
		slog.Error("Engine invoked for completed session", "session_id", session.ID)
		return nil, models.ErrSessionCompleted
	}

	if !session.ConsentGiven {
		return e.handleConsent(survey, session, rawInput)
	}

	step := survey.GetStep(session.CurrentStep)
	if step == nil {
		slog.Error("Session references unknown step", "session_id", session.ID, "step_id", session.CurrentStep)
		return nil, fmt.Errorf("step %q: %w", session.CurrentStep, models.ErrStepNotFound)
	}

	vr := Validate(step, rawInput)
	record := newRecord(session, step.ID, rawInput, vr)

	if !vr.Valid {
		return e.handleRejection(survey, session, step, record, vr)
	}
	return e.handleAccepted(survey, session, step, record, vr)
}

// handleConsent processes an utterance while the consent gate is open.
// Retry limits are never applied here: an unrecognized reply re-sends the
// consent prompt with the retry counter untouched.
func (e *Engine) handleConsent(survey *models.Survey, session *models.SurveySession, rawInput string) (*Result, error) {
	normalized := strings.ToLower(strings.TrimSpace(rawInput))

	if survey.Consent.Declines(normalized) {
		session.MarkCompleted()
		record := newRecord(session, survey.Consent.StepID, rawInput, ValidationResult{Valid: true, NormalizedValue: ConsentDeclinedValue})
		slog.Info("Consent declined", "session_id", session.ID, "survey_id", survey.Metadata.ID)
		return &Result{ResponseText: survey.Consent.DeclineMessage, Completed: true, Record: record}, nil
	}

	if survey.Consent.Accepts(normalized) {
		consentStep := survey.GetStep(survey.Consent.StepID)
		if consentStep == nil {
			return nil, fmt.Errorf("consent step %q: %w", survey.Consent.StepID, models.ErrStepNotFound)
		}
		nextID, err := ResolveNextStep(consentStep, session.Context)
		if err != nil {
			return nil, err
		}
		nextStep := survey.GetStep(nextID)
		if nextStep == nil {
			return nil, fmt.Errorf("step %q: %w", nextID, models.ErrStepNotFound)
		}
		text, err := Render(nextStep.Text, session.Context)
		if err != nil {
			return nil, err
		}
		session.GiveConsent()
		session.AdvanceStep(nextID)
		record := newRecord(session, survey.Consent.StepID, rawInput, ValidationResult{Valid: true, NormalizedValue: ConsentAcceptedValue})
		slog.Info("Consent accepted", "session_id", session.ID, "survey_id", survey.Metadata.ID, "first_step", nextID)
		return &Result{ResponseText: text, Completed: false, Record: record}, nil
	}

	// Unrecognized reply: re-send the consent prompt unchanged.
	text, err := Render(survey.Consent.Text, session.Context)
	if err != nil {
		return nil, err
	}
	record := newRecord(session, survey.Consent.StepID, rawInput, ValidationResult{ErrorMessage: "Invalid consent response"})
	slog.Debug("Unrecognized consent reply", "session_id", session.ID)
	return &Result{ResponseText: text, Completed: false, Record: record}, nil
}

// handleRejection runs the retry path for an invalid answer. The rejected
// answer is never stored; once the retry limit is reached the session skips
// past the step on the unchanged context.
func (e *Engine) handleRejection(survey *models.Survey, session *models.SurveySession, step *models.SurveyStep, record *models.SurveyResponse, vr ValidationResult) (*Result, error) {
	session.IncrementRetry()

	if session.RetryCount < survey.Settings.MaxRetryAttempts {
		slog.Debug("Answer rejected, retrying step", "session_id", session.ID, "step_id", step.ID, "retry_count", session.RetryCount)
		return &Result{ResponseText: vr.ErrorMessage, Completed: false, Record: record}, nil
	}

	slog.Warn("Retry limit reached, skipping step", "session_id", session.ID, "step_id", step.ID)
	nextID, err := ResolveNextStep(step, session.Context)
	if err != nil {
		return nil, err
	}
	nextStep := survey.GetStep(nextID)
	if nextStep == nil {
		return nil, fmt.Errorf("step %q: %w", nextID, models.ErrStepNotFound)
	}
	text, err := Render(nextStep.Text, session.Context)
	if err != nil {
		return nil, err
	}
	session.AdvanceStep(nextID)

	if nextStep.IsTerminal() {
		session.MarkCompleted()
		return &Result{ResponseText: text, Completed: true, Record: record}, nil
	}
	response := survey.Settings.RetryExceededMessage + "\n\n" + text
	return &Result{ResponseText: response, Completed: false, Record: record}, nil
}

// handleAccepted stores the normalized answer and advances the session by at
// most one step per utterance.
func (e *Engine) handleAccepted(survey *models.Survey, session *models.SurveySession, step *models.SurveyStep, record *models.SurveyResponse, vr ValidationResult) (*Result, error) {
	if step.StoreAs != "" {
		session.SetContext(step.StoreAs, vr.NormalizedValue)
		slog.Debug("Stored context variable", "session_id", session.ID, "variable", step.StoreAs)
	}
	session.ResetRetry()

	if step.IsTerminal() {
		text, err := Render(step.Text, session.Context)
		if err != nil {
			return nil, err
		}
		session.MarkCompleted()
		slog.Info("Survey completed", "session_id", session.ID, "survey_id", survey.Metadata.ID)
		return &Result{ResponseText: text, Completed: true, Record: record}, nil
	}

	nextID, err := ResolveNextStep(step, session.Context)
	if err != nil {
		return nil, err
	}
	nextStep := survey.GetStep(nextID)
	if nextStep == nil {
		return nil, fmt.Errorf("step %q: %w", nextID, models.ErrStepNotFound)
	}
	text, err := Render(nextStep.Text, session.Context)
	if err != nil {
		return nil, err
	}
	session.AdvanceStep(nextID)

	// Reaching a terminal step ends the conversation; its rendered text is
	// the reply. No second step is ever auto-advanced in one utterance.
	if nextStep.IsTerminal() {
		session.MarkCompleted()
		slog.Info("Survey completed", "session_id", session.ID, "survey_id", survey.Metadata.ID)
		return &Result{ResponseText: text, Completed: true, Record: record}, nil
	}
	slog.Debug("Advanced to next step", "session_id", session.ID, "step_id", nextID)
	return &Result{ResponseText: text, Completed: false, Record: record}, nil
}

// newRecord builds the append-only audit entry for one processed utterance.
func newRecord(session *models.SurveySession, stepID, rawInput string, vr ValidationResult) *models.SurveyResponse {
	record := &models.SurveyResponse{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		StepID:      stepID,
		RawText:     rawInput,
		Valid:       vr.Valid,
		RespondedAt: time.Now().UTC(),
	}
	if vr.Valid {
		value := vr.NormalizedValue
		record.StoredValue = &value
	}
	return record
}
