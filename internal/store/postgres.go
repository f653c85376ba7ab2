// Package store provides storage backends for SurveyPipe.
//
// This file implements a PostgreSQL-backed store for sessions, responses,
// and opt-outs.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetActiveSession(phoneHash, surveyID string) (*models.SurveySession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM survey_sessions
		WHERE phone_hash = $1 AND survey_id = $2 AND completed_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, phoneHash, surveyID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetActiveSession failed", "error", err, "survey_id", surveyID)
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) CreateSession(session *models.SurveySession) error {
	contextJSON, err := encodeContext(session.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO survey_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		session.ID, session.PhoneHash, session.SurveyID, session.SurveyVersion, session.CurrentStep,
		session.ConsentGiven, session.ConsentRequestedAt, session.ConsentGivenAt,
		session.RetryCount, contextJSON, session.StartedAt, session.UpdatedAt, session.CompletedAt)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "session_id", session.ID)
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "session_id", session.ID)
	return nil
}

// CommitResult persists the mutated session and the audit record in one
// transaction, taking a row lock on the session for the duration so a
// concurrent commit against the same session serializes behind it.
func (s *PostgresStore) CommitResult(session *models.SurveySession, record *models.SurveyResponse) error {
	contextJSON, err := encodeContext(session.Context)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedID string
	if err := tx.QueryRow(`SELECT id FROM survey_sessions WHERE id = $1 FOR UPDATE`, session.ID).Scan(&lockedID); err != nil {
		slog.Error("PostgresStore CommitResult lock failed", "error", err, "session_id", session.ID)
		return fmt.Errorf("failed to lock session %s: %w", session.ID, err)
	}

	session.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(`UPDATE survey_sessions SET current_step = $1, consent_given = $2, consent_given_at = $3,
		retry_count = $4, context = $5, updated_at = $6, completed_at = $7 WHERE id = $8`,
		session.CurrentStep, session.ConsentGiven, session.ConsentGivenAt,
		session.RetryCount, contextJSON, session.UpdatedAt, session.CompletedAt, session.ID)
	if err != nil {
		slog.Error("PostgresStore CommitResult session update failed", "error", err, "session_id", session.ID)
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}

	if record != nil {
		_, err = tx.Exec(`INSERT INTO survey_responses (`+responseColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			record.ID, record.SessionID, record.StepID, record.RawText, record.StoredValue, record.Valid, record.RespondedAt)
		if err != nil {
			slog.Error("PostgresStore CommitResult response insert failed", "error", err, "session_id", session.ID)
			return fmt.Errorf("failed to insert response for session %s: %w", session.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore CommitResult succeeded", "session_id", session.ID, "recorded", record != nil)
	return nil
}

func (s *PostgresStore) GetResponses(surveyID string) ([]models.SurveyResponse, error) {
	rows, err := s.db.Query(`SELECT r.id, r.session_id, r.step_id, r.raw_text, r.stored_value, r.valid, r.responded_at
		FROM survey_responses r JOIN survey_sessions s ON r.session_id = s.id
		WHERE s.survey_id = $1 ORDER BY r.responded_at`, surveyID)
	if err != nil {
		slog.Error("PostgresStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.SurveyResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			slog.Error("PostgresStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	slog.Debug("PostgresStore GetResponses succeeded", "survey_id", surveyID, "count", len(responses))
	return responses, nil
}

func (s *PostgresStore) AddOptOut(optOut models.OptOut) error {
	_, err := s.db.Exec(`INSERT INTO opt_outs (phone_hash, keyword, opted_out_at) VALUES ($1, $2, $3)
		ON CONFLICT (phone_hash) DO UPDATE SET keyword = EXCLUDED.keyword, opted_out_at = EXCLUDED.opted_out_at`,
		optOut.PhoneHash, optOut.Keyword, optOut.OptedOutAt)
	if err != nil {
		slog.Error("PostgresStore AddOptOut failed", "error", err)
		return fmt.Errorf("failed to insert opt-out: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveOptOut(phoneHash string) error {
	_, err := s.db.Exec(`DELETE FROM opt_outs WHERE phone_hash = $1`, phoneHash)
	if err != nil {
		slog.Error("PostgresStore RemoveOptOut failed", "error", err)
		return fmt.Errorf("failed to delete opt-out: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsOptedOut(phoneHash string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM opt_outs WHERE phone_hash = $1`, phoneHash).Scan(&count)
	if err != nil {
		slog.Error("PostgresStore IsOptedOut failed", "error", err)
		return false, fmt.Errorf("failed to query opt-out: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) ExpireStaleSessions(surveyID string, cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE survey_sessions SET completed_at = NOW(), updated_at = NOW()
		WHERE survey_id = $1 AND completed_at IS NULL AND updated_at < $2`, surveyID, cutoff)
	if err != nil {
		slog.Error("PostgresStore ExpireStaleSessions failed", "error", err, "survey_id", surveyID)
		return 0, fmt.Errorf("failed to expire sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if affected > 0 {
		slog.Info("Expired stale sessions", "survey_id", surveyID, "count", affected)
	}
	return int(affected), nil
}

func (s *PostgresStore) GetSessionStats() (models.SessionStats, error) {
	stats := models.SessionStats{SessionsBySurvey: make(map[string]int)}
	rows, err := s.db.Query(`SELECT survey_id, completed_at IS NOT NULL, COUNT(1)
		FROM survey_sessions GROUP BY survey_id, completed_at IS NOT NULL`)
	if err != nil {
		return stats, fmt.Errorf("failed to query session stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var surveyID string
		var completed bool
		var count int
		if err := rows.Scan(&surveyID, &completed, &count); err != nil {
			return stats, fmt.Errorf("failed to scan session stats: %w", err)
		}
		stats.TotalSessions += count
		stats.SessionsBySurvey[surveyID] += count
		if completed {
			stats.CompletedSessions += count
		} else {
			stats.ActiveSessions += count
		}
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM survey_responses`).Scan(&stats.TotalResponses); err != nil {
		return stats, fmt.Errorf("failed to count responses: %w", err)
	}
	return stats, nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
