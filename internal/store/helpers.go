package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans a SurveySession from a row, decoding the JSON context.
func scanSession(row rowScanner) (*models.SurveySession, error) {
	var sess models.SurveySession
	var contextJSON string
	var consentGivenAt, completedAt sql.NullTime
	err := row.Scan(
		&sess.ID, &sess.PhoneHash, &sess.SurveyID, &sess.SurveyVersion, &sess.CurrentStep,
		&sess.ConsentGiven, &sess.ConsentRequestedAt, &consentGivenAt,
		&sess.RetryCount, &contextJSON, &sess.StartedAt, &sess.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	if consentGivenAt.Valid {
		sess.ConsentGivenAt = &consentGivenAt.Time
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	if err := json.Unmarshal([]byte(contextJSON), &sess.Context); err != nil {
		return nil, fmt.Errorf("failed to decode session context: %w", err)
	}
	return &sess, nil
}

// scanResponse scans a SurveyResponse from a row.
func scanResponse(row rowScanner) (models.SurveyResponse, error) {
	var r models.SurveyResponse
	var storedValue sql.NullString
	err := row.Scan(&r.ID, &r.SessionID, &r.StepID, &r.RawText, &storedValue, &r.Valid, &r.RespondedAt)
	if err != nil {
		return r, fmt.Errorf("scan response failed: %w", err)
	}
	if storedValue.Valid {
		value := storedValue.String
		r.StoredValue = &value
	}
	return r, nil
}

// encodeContext marshals the session context map for storage, treating a nil
// map as empty.
func encodeContext(ctx map[string]string) (string, error) {
	if ctx == nil {
		ctx = map[string]string{}
	}
	data, err := json.Marshal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to encode session context: %w", err)
	}
	return string(data), nil
}

// sessionColumns is the canonical column order used by scanSession.
const sessionColumns = `id, phone_hash, survey_id, survey_version, current_step,
	consent_given, consent_requested_at, consent_given_at,
	retry_count, context, started_at, updated_at, completed_at`

// responseColumns is the canonical column order used by scanResponse.
const responseColumns = `id, session_id, step_id, raw_text, stored_value, valid, responded_at`
