package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/SurveyPipe/internal/flow"
	"github.com/BTreeMap/SurveyPipe/internal/identity"
	"github.com/BTreeMap/SurveyPipe/internal/models"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
)

// Messages sent outside any survey flow
const (
	// OptOutConfirmation is sent when a sender opts out
	OptOutConfirmation = "You have been unsubscribed from SMS notifications. Text START to opt back in."
	// OptInConfirmation is sent when an opted-out sender texts START
	OptInConfirmation = "Welcome back! You have opted back in to SMS notifications."
	// NoActiveSessionMessage is sent when a message arrives with no session in progress
	NoActiveSessionMessage = "No survey in progress. Text a survey start word to begin."
)

// optOutKeywords are the case-insensitive opt-out triggers.
var optOutKeywords = map[string]bool{
	"stop": true, "stopall": true, "unsubscribe": true, "cancel": true, "end": true, "quit": true,
}

// optInKeyword re-subscribes an opted-out sender.
const optInKeyword = "start"

// ResponseHandler turns inbound transport messages into survey engine
// invocations. It hashes the sender address before anything else touches it,
// handles opt-out keywords and start words, serializes processing per sender,
// and commits the mutated session plus its audit record atomically.
type ResponseHandler struct {
	st              store.Store
	loader          *survey.Loader
	engine          *flow.Engine
	hasher          *identity.Hasher
	defaultSurveyID string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResponseHandler creates a ResponseHandler.
func NewResponseHandler(st store.Store, loader *survey.Loader, hasher *identity.Hasher, defaultSurveyID string) *ResponseHandler {
	slog.Debug("Creating ResponseHandler", "default_survey", defaultSurveyID)
	return &ResponseHandler{
		st:              st,
		loader:          loader,
		engine:          flow.NewEngine(),
		hasher:          hasher,
		defaultSurveyID: defaultSurveyID,
		locks:           make(map[string]*sync.Mutex),
	}
}

// HandleIncoming processes one inbound message and returns the reply text.
// An empty reply means nothing should be sent (opted-out sender). Errors are
// operational failures that must surface to the operator; no reply is
// fabricated for them.
func (h *ResponseHandler) HandleIncoming(ctx context.Context, from, body string) (string, error) {
	phoneHash := h.hasher.HashPhone(from)
	truncated := identity.Truncate(phoneHash)
	bodyLower := strings.ToLower(strings.TrimSpace(body))
	slog.Debug("Handling inbound message", "sender", truncated, "body_length", len(body))

	// Processing for one sender is serialized so two near-simultaneous
	// messages cannot corrupt the same session.
	lock := h.senderLock(phoneHash)
	lock.Lock()
	defer lock.Unlock()

	if optOutKeywords[bodyLower] {
		return h.handleOptOut(phoneHash, truncated, bodyLower)
	}

	optedOut, err := h.st.IsOptedOut(phoneHash)
	if err != nil {
		return "", fmt.Errorf("opt-out lookup failed: %w", err)
	}
	if optedOut {
		if bodyLower == optInKeyword {
			if err := h.st.RemoveOptOut(phoneHash); err != nil {
				return "", fmt.Errorf("opt-in failed: %w", err)
			}
			slog.Info("Sender opted back in", "sender", truncated)
			return OptInConfirmation, nil
		}
		slog.Debug("Ignoring message from opted-out sender", "sender", truncated)
		return "", nil
	}

	// A start word always begins a fresh session at the consent gate.
	startSurveyID, err := h.loader.FindByStartWord(body)
	if err != nil {
		return "", err
	}
	if startSurveyID != "" {
		return h.startSession(phoneHash, truncated, startSurveyID)
	}

	return h.continueSession(phoneHash, truncated, body)
}

// handleOptOut records the opt-out and confirms it.
func (h *ResponseHandler) handleOptOut(phoneHash, truncated, keyword string) (string, error) {
	err := h.st.AddOptOut(models.OptOut{
		PhoneHash:  phoneHash,
		Keyword:    keyword,
		OptedOutAt: time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("opt-out failed: %w", err)
	}
	slog.Info("Sender opted out", "sender", truncated, "keyword", keyword)
	return OptOutConfirmation, nil
}

// startSession creates a new session at the consent step and returns the
// rendered consent prompt.
func (h *ResponseHandler) startSession(phoneHash, truncated, surveyID string) (string, error) {
	def, err := h.loader.Load(surveyID)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	session := &models.SurveySession{
		ID:                 uuid.NewString(),
		PhoneHash:          phoneHash,
		SurveyID:           surveyID,
		SurveyVersion:      def.Metadata.Version,
		CurrentStep:        def.Consent.StepID,
		ConsentRequestedAt: now,
		Context:            make(map[string]string),
		StartedAt:          now,
		UpdatedAt:          now,
	}
	if err := h.st.CreateSession(session); err != nil {
		return "", err
	}
	text, err := flow.Render(def.Consent.Text, session.Context)
	if err != nil {
		return "", err
	}
	slog.Info("Started new survey session", "sender", truncated, "survey_id", surveyID, "session_id", session.ID)
	return text, nil
}

// continueSession routes the message to the sender's active session.
func (h *ResponseHandler) continueSession(phoneHash, truncated, body string) (string, error) {
	session, err := h.findActiveSession(phoneHash)
	if err != nil {
		return "", err
	}
	if session == nil {
		slog.Debug("No active session for sender", "sender", truncated)
		return NoActiveSessionMessage, nil
	}

	def, err := h.loader.Load(session.SurveyID)
	if err != nil {
		return "", err
	}

	result, err := h.engine.ProcessMessage(def, session, body)
	if err != nil {
		slog.Error("Engine failed to process message", "sender", truncated, "session_id", session.ID, "error", err)
		return "", err
	}
	if err := h.st.CommitResult(session, result.Record); err != nil {
		return "", err
	}
	slog.Debug("Processed survey message", "sender", truncated, "session_id", session.ID, "completed", result.Completed)
	return result.ResponseText, nil
}

// findActiveSession looks up the sender's incomplete session, checking the
// default survey first and then every other known survey.
func (h *ResponseHandler) findActiveSession(phoneHash string) (*models.SurveySession, error) {
	if h.defaultSurveyID != "" {
		session, err := h.st.GetActiveSession(phoneHash, h.defaultSurveyID)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	ids, err := h.loader.ListSurveys()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if id == h.defaultSurveyID {
			continue
		}
		session, err := h.st.GetActiveSession(phoneHash, id)
		if err != nil {
			return nil, err
		}
		if session != nil {
			return session, nil
		}
	}
	return nil, nil
}

// Listen consumes inbound messages from a transport service and sends
// replies until the context is cancelled.
func (h *ResponseHandler) Listen(ctx context.Context, svc Service) {
	slog.Info("ResponseHandler listening for inbound messages")
	for {
		select {
		case <-ctx.Done():
			slog.Info("ResponseHandler listener stopped")
			return
		case msg, ok := <-svc.Messages():
			if !ok {
				slog.Info("ResponseHandler message channel closed")
				return
			}
			reply, err := h.HandleIncoming(ctx, msg.From, msg.Body)
			if err != nil {
				slog.Error("Failed to handle inbound message", "error", err)
				continue
			}
			if reply == "" {
				continue
			}
			if err := svc.SendMessage(ctx, msg.From, reply); err != nil {
				slog.Error("Failed to send reply", "error", err)
			}
		}
	}
}

// senderLock returns the mutex serializing one sender's processing.
func (h *ResponseHandler) senderLock(phoneHash string) *sync.Mutex {
	h.mu.Lock()
	defer h.mu.Unlock()
	lock, ok := h.locks[phoneHash]
	if !ok {
		lock = &sync.Mutex{}
		h.locks[phoneHash] = lock
	}
	return lock
}
