// Package store provides storage backends for SurveyPipe.
//
// This file implements an SQLite-backed store for sessions, responses, and
// opt-outs.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SurveyPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite serializes writers; a single connection keeps session commits
	// ordered without busy errors.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetActiveSession(phoneHash, surveyID string) (*models.SurveySession, error) {
	row := s.db.QueryRow(`SELECT `+sessionColumns+` FROM survey_sessions
		WHERE phone_hash = ? AND survey_id = ? AND completed_at IS NULL
		ORDER BY started_at DESC LIMIT 1`, phoneHash, surveyID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetActiveSession failed", "error", err, "survey_id", surveyID)
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) CreateSession(session *models.SurveySession) error {
	contextJSON, err := encodeContext(session.Context)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT INTO survey_sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.PhoneHash, session.SurveyID, session.SurveyVersion, session.CurrentStep,
		session.ConsentGiven, session.ConsentRequestedAt, session.ConsentGivenAt,
		session.RetryCount, contextJSON, session.StartedAt, session.UpdatedAt, session.CompletedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "session_id", session.ID)
		return fmt.Errorf("failed to insert session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "session_id", session.ID)
	return nil
}

func (s *SQLiteStore) CommitResult(session *models.SurveySession, record *models.SurveyResponse) error {
	contextJSON, err := encodeContext(session.Context)
	if err != nil {
		return err
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	session.UpdatedAt = time.Now().UTC()
	_, err = tx.Exec(`UPDATE survey_sessions SET current_step = ?, consent_given = ?, consent_given_at = ?,
		retry_count = ?, context = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		session.CurrentStep, session.ConsentGiven, session.ConsentGivenAt,
		session.RetryCount, contextJSON, session.UpdatedAt, session.CompletedAt, session.ID)
	if err != nil {
		slog.Error("SQLiteStore CommitResult session update failed", "error", err, "session_id", session.ID)
		return fmt.Errorf("failed to update session %s: %w", session.ID, err)
	}

	if record != nil {
		_, err = tx.Exec(`INSERT INTO survey_responses (`+responseColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			record.ID, record.SessionID, record.StepID, record.RawText, record.StoredValue, record.Valid, record.RespondedAt)
		if err != nil {
			slog.Error("SQLiteStore CommitResult response insert failed", "error", err, "session_id", session.ID)
			return fmt.Errorf("failed to insert response for session %s: %w", session.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore CommitResult succeeded", "session_id", session.ID, "recorded", record != nil)
	return nil
}

func (s *SQLiteStore) GetResponses(surveyID string) ([]models.SurveyResponse, error) {
	rows, err := s.db.Query(`SELECT r.id, r.session_id, r.step_id, r.raw_text, r.stored_value, r.valid, r.responded_at
		FROM survey_responses r JOIN survey_sessions s ON r.session_id = s.id
		WHERE s.survey_id = ? ORDER BY r.responded_at`, surveyID)
	if err != nil {
		slog.Error("SQLiteStore GetResponses query failed", "error", err)
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer rows.Close()

	var responses []models.SurveyResponse
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			slog.Error("SQLiteStore GetResponses scan failed", "error", err)
			return nil, err
		}
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate response rows: %w", err)
	}
	slog.Debug("SQLiteStore GetResponses succeeded", "survey_id", surveyID, "count", len(responses))
	return responses, nil
}

func (s *SQLiteStore) AddOptOut(optOut models.OptOut) error {
	_, err := s.db.Exec(`INSERT INTO opt_outs (phone_hash, keyword, opted_out_at) VALUES (?, ?, ?)
		ON CONFLICT(phone_hash) DO UPDATE SET keyword = excluded.keyword, opted_out_at = excluded.opted_out_at`,
		optOut.PhoneHash, optOut.Keyword, optOut.OptedOutAt)
	if err != nil {
		slog.Error("SQLiteStore AddOptOut failed", "error", err)
		return fmt.Errorf("failed to insert opt-out: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveOptOut(phoneHash string) error {
	_, err := s.db.Exec(`DELETE FROM opt_outs WHERE phone_hash = ?`, phoneHash)
	if err != nil {
		slog.Error("SQLiteStore RemoveOptOut failed", "error", err)
		return fmt.Errorf("failed to delete opt-out: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsOptedOut(phoneHash string) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM opt_outs WHERE phone_hash = ?`, phoneHash).Scan(&count)
	if err != nil {
		slog.Error("SQLiteStore IsOptedOut failed", "error", err)
		return false, fmt.Errorf("failed to query opt-out: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) ExpireStaleSessions(surveyID string, cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`UPDATE survey_sessions SET completed_at = ?, updated_at = ?
		WHERE survey_id = ? AND completed_at IS NULL AND updated_at < ?`,
		time.Now().UTC(), time.Now().UTC(), surveyID, cutoff)
	if err != nil {
		slog.Error("SQLiteStore ExpireStaleSessions failed", "error", err, "survey_id", surveyID)
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

func (s *SQLiteStore) GetSessionStats() (models.SessionStats, error) {
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
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
