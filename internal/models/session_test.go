package models

import "testing"

func TestSessionAdvanceStepResetsRetry(t *testing.T) {
	s := &SurveySession{CurrentStep: "a", RetryCount: 2}
	s.AdvanceStep("b")
	if s.CurrentStep != "b" {
		t.Errorf("expected current step b, got %q", s.CurrentStep)
	}
	if s.RetryCount != 0 {
		t.Errorf("expected retry count reset, got %d", s.RetryCount)
	}
}

func TestSessionMarkCompleted(t *testing.T) {
	s := &SurveySession{}
	if s.IsCompleted() {
		t.Fatal("new session should not be completed")
	}
	s.MarkCompleted()
	if !s.IsCompleted() || s.CompletedAt == nil {
		t.Error("expected session to be completed with timestamp")
	}
}

func TestSessionGiveConsent(t *testing.T) {
	s := &SurveySession{}
	s.GiveConsent()
	if !s.ConsentGiven || s.ConsentGivenAt == nil {
		t.Error("expected consent flag and timestamp to be set")
	}
}

func TestSessionSetContext(t *testing.T) {
	s := &SurveySession{}
	s.SetContext("name", "Ada")
	s.SetContext("name", "Grace")
	if s.Context["name"] != "Grace" {
		t.Errorf("expected overwrite, got %q", s.Context["name"])
	}
}
