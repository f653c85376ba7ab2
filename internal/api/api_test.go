package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/identity"
	"github.com/BTreeMap/SurveyPipe/internal/messaging"
	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
	"github.com/BTreeMap/SurveyPipe/internal/twiliosms"
)

const signupDoc = `metadata:
  id: signup
  name: Signup
  version: 1.0.0
  start_words: [signup]
consent:
  step_id: consent
  text: "Reply YES to continue or NO to stop."
  accept_values: ["yes"]
  decline_values: ["no"]
  decline_message: "Okay, goodbye."
steps:
  - id: consent
    text: "Reply YES or NO."
    type: free_text
    next: ask_name
  - id: ask_name
    text: "What is your name?"
    type: free_text
    store_as: name
    next: done
  - id: done
    text: "All done, thanks!"
    type: terminal
`

// newTestServer wires a Server over the in-memory store, a temp survey
// directory, and the mock Twilio client. Signature validation is disabled.
func newTestServer(t *testing.T) (*Server, *store.InMemoryStore) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "signup.yaml"), []byte(signupDoc), 0644); err != nil {
		t.Fatalf("failed to write survey: %v", err)
	}
	st := store.NewInMemoryStore()
	loader := survey.NewLoader(dir)
	hasher, err := identity.NewHasher("test-salt")
	if err != nil {
		t.Fatalf("failed to create hasher: %v", err)
	}
	respHandler := messaging.NewResponseHandler(st, loader, hasher, "signup")
	msgService := messaging.NewTwilioService(twiliosms.NewMockClient())
	return NewServer(st, loader, respHandler, msgService, nil), st
}

func postWebhook(t *testing.T, server *Server, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/webhook/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	server.smsWebhookHandler(rr, req)
	return rr
}

func assertHTTPStatus(t *testing.T, want, got int, context string) {
	t.Helper()
	if want != got {
		t.Fatalf("%s: expected status %d, got %d", context, want, got)
	}
}

func TestSMSWebhook_StartWordReturnsTwiML(t *testing.T) {
	server, _ := newTestServer(t)

	form := url.Values{}
	form.Set("MessageSid", "SM123")
	form.Set("From", "+15551234567")
	form.Set("Body", "signup")
	rr := postWebhook(t, server, form)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "webhook start word")
	if ct := rr.Header().Get("Content-Type"); ct != "text/xml" {
		t.Errorf("expected text/xml, got %q", ct)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "<Response>") || !strings.Contains(body, "Reply YES to continue or NO to stop.") {
		t.Errorf("expected TwiML with consent prompt, got %q", body)
	}
}

func TestSMSWebhook_EmptyReplyProducesEmptyResponse(t *testing.T) {
	server, _ := newTestServer(t)

	// Opt out, then send again: the second message gets silence.
	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "STOP")
	postWebhook(t, server, form)

	form.Set("Body", "hello")
	rr := postWebhook(t, server, form)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "webhook opted-out sender")
	if strings.Contains(rr.Body.String(), "<Message>") {
		t.Errorf("expected empty TwiML response, got %q", rr.Body.String())
	}
}

func TestSMSWebhook_MissingFrom(t *testing.T) {
	server, _ := newTestServer(t)
	form := url.Values{}
	form.Set("Body", "signup")
	rr := postWebhook(t, server, form)
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "webhook missing From")
}

func TestSMSWebhook_MethodNotAllowed(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/webhook/sms", nil)
	rr := httptest.NewRecorder()
	server.smsWebhookHandler(rr, req)
	assertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "webhook GET")
}

func TestSMSWebhook_SignatureRejection(t *testing.T) {
	server, _ := newTestServer(t)
	server.validator = rejectAllValidator{}

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "signup")
	rr := postWebhook(t, server, form)
	assertHTTPStatus(t, http.StatusForbidden, rr.Code, "webhook bad signature")
}

type rejectAllValidator struct{}

func (rejectAllValidator) ValidateSignature(url string, params map[string]string, signature string) bool {
	return false
}

func TestWriteJSONResponseUnmarshalablePayload(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, make(chan int))

	assertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unmarshalable payload")
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("expected JSON error envelope, got %q", rr.Body.String())
	}
	if resp.Message != "Internal server error" {
		t.Errorf("unexpected error message %q", resp.Message)
	}
}

func TestHealthHandler(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.healthHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "health check")
	var health map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}
	if health["status"] != "healthy" {
		t.Errorf("expected healthy status, got %v", health["status"])
	}
}

func TestSurveysHandler(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/surveys", nil)
	rr := httptest.NewRecorder()
	server.surveysHandler(rr, req)

	assertHTTPStatus(t, http.StatusOK, rr.Code, "list surveys")
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	ids, ok := resp.Result.([]interface{})
	if !ok || len(ids) != 1 || ids[0] != "signup" {
		t.Errorf("unexpected survey list %v", resp.Result)
	}
}

func TestSurveyItemHandler_Get(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/surveys/signup", nil)
	rr := httptest.NewRecorder()
	server.surveyItemHandler(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "get survey")

	req = httptest.NewRequest("GET", "/surveys/ghost", nil)
	rr = httptest.NewRecorder()
	server.surveyItemHandler(rr, req)
	assertHTTPStatus(t, http.StatusNotFound, rr.Code, "get unknown survey")
}

func TestSurveyItemHandler_Reload(t *testing.T) {
	server, _ := newTestServer(t)
	req := httptest.NewRequest("POST", "/surveys/signup/reload", nil)
	rr := httptest.NewRecorder()
	server.surveyItemHandler(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "reload survey")

	req = httptest.NewRequest("POST", "/surveys/ghost/reload", nil)
	rr = httptest.NewRecorder()
	server.surveyItemHandler(rr, req)
	assertHTTPStatus(t, http.StatusUnprocessableEntity, rr.Code, "reload unknown survey")
}

func TestResponsesHandler(t *testing.T) {
	server, _ := newTestServer(t)

	// Run a short conversation through the webhook so records exist.
	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "signup")
	postWebhook(t, server, form)
	form.Set("Body", "yes")
	postWebhook(t, server, form)

	req := httptest.NewRequest("GET", "/responses?survey_id=signup", nil)
	rr := httptest.NewRecorder()
	server.responsesHandler(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "list responses")

	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	records, ok := resp.Result.([]interface{})
	if !ok || len(records) != 1 {
		t.Errorf("expected 1 audit record, got %v", resp.Result)
	}

	// survey_id is required.
	req = httptest.NewRequest("GET", "/responses", nil)
	rr = httptest.NewRecorder()
	server.responsesHandler(rr, req)
	assertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing survey_id")
}

func TestStatsHandler(t *testing.T) {
	server, _ := newTestServer(t)

	form := url.Values{}
	form.Set("From", "+15551234567")
	form.Set("Body", "signup")
	postWebhook(t, server, form)

	req := httptest.NewRequest("GET", "/sessions/stats", nil)
	rr := httptest.NewRecorder()
	server.statsHandler(rr, req)
	assertHTTPStatus(t, http.StatusOK, rr.Code, "session stats")

	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	stats := resp.Result.(map[string]interface{})
	if stats["total_sessions"].(float64) != 1 {
		t.Errorf("expected 1 session, got %v", stats["total_sessions"])
	}
}
