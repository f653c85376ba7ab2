package messaging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/identity"
	"github.com/BTreeMap/SurveyPipe/internal/store"
	"github.com/BTreeMap/SurveyPipe/internal/survey"
)

const signupDoc = `metadata:
  id: signup
  name: Signup
  version: 1.0.0
  start_words: [signup]
consent:
  step_id: consent
  text: "Reply YES to continue or NO to stop."
  accept_values: ["yes", "y"]
  decline_values: ["no"]
  decline_message: "Okay, goodbye."
settings:
  max_retry_attempts: 2
steps:
  - id: consent
    text: "Reply YES or NO."
    type: free_text
    next: ask_name
  - id: ask_name
    text: "What is your name?"
    type: free_text
    store_as: name
    next: ask_color
  - id: ask_color
    text: "What is your favorite color?"
    type: free_text
    store_as: color
    next: done
  - id: done
    text: "All done, thanks!"
    type: terminal
`

func newTestHandler(t *testing.T) (*ResponseHandler, *store.InMemoryStore) {
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
	return NewResponseHandler(st, loader, hasher, "signup"), st
}

func handle(t *testing.T, h *ResponseHandler, from, body string) string {
	t.Helper()
	reply, err := h.HandleIncoming(context.Background(), from, body)
	if err != nil {
		t.Fatalf("HandleIncoming(%q) failed: %v", body, err)
	}
	return reply
}

func TestHandleIncoming_StartWordBeginsSession(t *testing.T) {
	h, _ := newTestHandler(t)
	reply := handle(t, h, "+15551234567", "SIGNUP")
	if reply != "Reply YES to continue or NO to stop." {
		t.Errorf("expected consent prompt, got %q", reply)
	}
}

func TestHandleIncoming_FullConversation(t *testing.T) {
	h, st := newTestHandler(t)
	from := "+15551234567"

	handle(t, h, from, "signup")
	reply := handle(t, h, from, "yes")
	if reply != "What is your name?" {
		t.Fatalf("expected first question, got %q", reply)
	}
	reply = handle(t, h, from, "Ada")
	if reply != "What is your favorite color?" {
		t.Fatalf("expected second question, got %q", reply)
	}
	reply = handle(t, h, from, "blue")
	if reply != "All done, thanks!" {
		t.Fatalf("expected completion text, got %q", reply)
	}

	// Conversation over: next message gets the no-session notice.
	reply = handle(t, h, from, "hello again")
	if reply != NoActiveSessionMessage {
		t.Errorf("expected no-session notice, got %q", reply)
	}

	responses, err := st.GetResponses("signup")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Consent accept plus two answers. The raw sender number must never appear.
	if len(responses) != 3 {
		t.Fatalf("expected 3 audit records, got %d", len(responses))
	}
	for _, r := range responses {
		if r.SessionID == from {
			t.Error("audit record keyed by raw phone number")
		}
	}
}

func TestHandleIncoming_NoSession(t *testing.T) {
	h, _ := newTestHandler(t)
	reply := handle(t, h, "+15551234567", "hello")
	if reply != NoActiveSessionMessage {
		t.Errorf("expected no-session notice, got %q", reply)
	}
}

func TestHandleIncoming_OptOutAndOptIn(t *testing.T) {
	h, st := newTestHandler(t)
	from := "+15551234567"

	reply := handle(t, h, from, "STOP")
	if reply != OptOutConfirmation {
		t.Fatalf("expected opt-out confirmation, got %q", reply)
	}

	// Opted-out senders get silence, even for start words.
	if reply := handle(t, h, from, "signup"); reply != "" {
		t.Errorf("expected silence for opted-out sender, got %q", reply)
	}

	reply = handle(t, h, from, "START")
	if reply != OptInConfirmation {
		t.Fatalf("expected opt-in confirmation, got %q", reply)
	}

	hasher, _ := identity.NewHasher("test-salt")
	out, err := st.IsOptedOut(hasher.HashPhone(from))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out {
		t.Error("expected opt-out cleared after START")
	}
}

func TestHandleIncoming_OptOutKeywordVariants(t *testing.T) {
	for _, kw := range []string{"stop", "UNSUBSCRIBE", " Quit ", "cancel"} {
		h, _ := newTestHandler(t)
		reply := handle(t, h, "+15551234567", kw)
		if reply != OptOutConfirmation {
			t.Errorf("keyword %q: expected opt-out confirmation, got %q", kw, reply)
		}
	}
}

func TestHandleIncoming_StartWordRestartsSession(t *testing.T) {
	h, _ := newTestHandler(t)
	from := "+15551234567"

	handle(t, h, from, "signup")
	handle(t, h, from, "yes")

	// A start word mid-survey abandons progress and re-opens the consent gate.
	reply := handle(t, h, from, "signup")
	if reply != "Reply YES to continue or NO to stop." {
		t.Fatalf("expected fresh consent prompt, got %q", reply)
	}
	reply = handle(t, h, from, "yes")
	if reply != "What is your name?" {
		t.Errorf("expected restart from first question, got %q", reply)
	}
}

func TestHandleIncoming_RetryThenSkip(t *testing.T) {
	h, _ := newTestHandler(t)
	from := "+15551234567"

	handle(t, h, from, "signup")
	handle(t, h, from, "yes")

	// Empty answers are invalid for the name step; budget is 2.
	reply := handle(t, h, from, "   ")
	if reply != "Please enter a response." {
		t.Fatalf("expected validation message, got %q", reply)
	}
	reply = handle(t, h, from, "   ")
	if !strings.Contains(reply, "What is your favorite color?") {
		t.Fatalf("expected skip to next question after retry budget, got %q", reply)
	}
}
