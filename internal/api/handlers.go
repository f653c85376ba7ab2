package api

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// healthHandler provides a health check endpoint for monitoring and load balancing.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if stats, err := s.st.GetSessionStats(); err != nil {
		slog.Warn("Health check: failed to get session stats", "error", err)
		healthData["status"] = "degraded"
		healthData["error"] = "Failed to fetch session metrics"
	} else {
		healthData["active_sessions"] = stats.ActiveSessions
	}

	statusCode := http.StatusOK
	if healthData["status"] == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSONResponse(w, statusCode, healthData)
}

// surveysHandler returns the IDs of all loadable survey definitions (GET /surveys).
func (s *Server) surveysHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.surveysHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.surveysHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ids, err := s.loader.ListSurveys()
	if err != nil {
		slog.Error("Error listing surveys", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list surveys"))
		return
	}
	slog.Debug("surveys listed", "count", len(ids))
	writeJSONResponse(w, http.StatusOK, models.Success(ids))
}

// surveyItemHandler routes /surveys/{id} and /surveys/{id}/reload.
func (s *Server) surveyItemHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.surveyItemHandler: processing request", "method", r.Method, "path", r.URL.Path)

	path := strings.TrimPrefix(r.URL.Path, "/surveys/")
	segments := strings.Split(path, "/")
	if len(segments) == 0 || segments[0] == "" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Missing survey ID"))
		return
	}
	surveyID := segments[0]

	if len(segments) == 1 {
		// /surveys/{id}
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		s.getSurveyHandler(w, r, surveyID)
		return
	}

	if len(segments) == 2 && segments[1] == "reload" {
		// /surveys/{id}/reload
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
			return
		}
		s.reloadSurveyHandler(w, r, surveyID)
		return
	}

	writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown survey endpoint"))
}

// getSurveyHandler handles GET /surveys/{id}.
func (s *Server) getSurveyHandler(w http.ResponseWriter, r *http.Request, surveyID string) {
	sv, err := s.loader.Load(surveyID)
	if err != nil {
		slog.Warn("Server.getSurveyHandler: survey not found", "survey_id", surveyID, "error", err)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Survey not found: "+surveyID))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(sv))
}

// reloadSurveyHandler handles POST /surveys/{id}/reload. A failed reload keeps
// the previously cached definition serving traffic.
func (s *Server) reloadSurveyHandler(w http.ResponseWriter, r *http.Request, surveyID string) {
	sv, err := s.loader.Reload(surveyID)
	if err != nil {
		slog.Error("Server.reloadSurveyHandler: reload failed", "survey_id", surveyID, "error", err)
		writeJSONResponse(w, http.StatusUnprocessableEntity, models.Error("Reload failed: "+err.Error()))
		return
	}
	slog.Info("Survey definition reloaded", "survey_id", surveyID, "version", sv.Metadata.Version)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("Survey reloaded successfully", sv.Metadata))
}

// statsHandler returns aggregate session counts (GET /sessions/stats).
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.statsHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.statsHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	stats, err := s.st.GetSessionStats()
	if err != nil {
		slog.Error("Error fetching session stats", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch session stats"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

// responsesHandler returns collected responses for a survey (GET /responses?survey_id=...).
func (s *Server) responsesHandler(w http.ResponseWriter, r *http.Request) {
	slog.Debug("Server.responsesHandler: processing request", "method", r.Method, "path", r.URL.Path)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.responsesHandler: method not allowed", "method", r.Method)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	surveyID := r.URL.Query().Get("survey_id")
	if surveyID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Missing required query parameter: survey_id"))
		return
	}
	responses, err := s.st.GetResponses(surveyID)
	if err != nil {
		slog.Error("Error fetching responses", "error", err, "survey_id", surveyID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch responses"))
		return
	}
	slog.Debug("responses fetched", "survey_id", surveyID, "count", len(responses))
	writeJSONResponse(w, http.StatusOK, models.Success(responses))
}
