package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// writeJSONResponse writes a JSON response with the given status code.
// Payloads are marshaled before any headers go out; if marshaling fails the
// client gets a plain 500 error envelope instead.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		statusCode = http.StatusInternalServerError
		jsonData, err = json.Marshal(models.Error("Internal server error"))
		if err != nil {
			// The error envelope is a plain struct of strings; this cannot
			// happen outside a broken build.
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
