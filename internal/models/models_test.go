package models

import (
	"errors"
	"strings"
	"testing"
)

// validSurvey builds a minimal definition that passes Validate.
func validSurvey() *Survey {
	return &Survey{
		Metadata: SurveyMetadata{
			ID:         "intake",
			Name:       "Intake Survey",
			Version:    "1.0.0",
			StartWords: []string{"intake"},
		},
		Consent: ConsentConfig{
			StepID:         "consent",
			Text:           "Reply YES to continue or NO to stop.",
			AcceptValues:   []string{"yes", "y"},
			DeclineValues:  []string{"no"},
			DeclineMessage: "Okay, goodbye.",
		},
		Steps: []SurveyStep{
			{ID: "consent", Text: "Reply YES or NO.", Kind: StepKindText, Next: "ask_name"},
			{ID: "ask_name", Text: "What is your name?", Kind: StepKindText, StoreAs: "name", Next: "done"},
			{ID: "done", Text: "Thanks {{.name}}!", Kind: StepKindTerminal},
		},
	}
}

func TestValidate_OK(t *testing.T) {
	s := validSurvey()
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Settings.MaxRetryAttempts != DefaultRetryAttempts {
		t.Errorf("expected default retry attempts %d, got %d", DefaultRetryAttempts, s.Settings.MaxRetryAttempts)
	}
	if s.Settings.TimeoutHours != DefaultTimeoutHours {
		t.Errorf("expected default timeout %d, got %d", DefaultTimeoutHours, s.Settings.TimeoutHours)
	}
	if s.GetStep("ask_name") == nil {
		t.Error("expected step index to resolve ask_name")
	}
}

func TestValidate_DuplicateStepID(t *testing.T) {
	s := validSurvey()
	s.Steps = append(s.Steps, SurveyStep{ID: "ask_name", Text: "again", Kind: StepKindText, Next: "done"})
	err := s.Validate()
	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("expected DefinitionError, got %v", err)
	}
	if !strings.Contains(defErr.Message, "duplicate") {
		t.Errorf("expected duplicate id message, got %q", defErr.Message)
	}
}

func TestValidate_DanglingNext(t *testing.T) {
	s := validSurvey()
	s.Steps[1].Next = "missing"
	err := s.Validate()
	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("expected DefinitionError, got %v", err)
	}
	if !strings.Contains(defErr.Message, "missing") {
		t.Errorf("expected unknown step reference, got %q", defErr.Message)
	}
}

func TestValidate_DanglingConditionalNext(t *testing.T) {
	s := validSurvey()
	s.Steps[1].NextConditional = []ConditionalNext{{Condition: `name == "x"`, Next: "nowhere"}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for dangling conditional next")
	}
}

func TestValidate_BadVersion(t *testing.T) {
	s := validSurvey()
	s.Metadata.Version = "1.0"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for non-semver version")
	}
}

func TestValidate_BadPattern(t *testing.T) {
	s := validSurvey()
	s.Steps[1].Kind = StepKindRegex
	s.Steps[1].Validation = &ValidationRules{Pattern: "[0-9"}
	err := s.Validate()
	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatalf("expected DefinitionError for invalid pattern, got %v", err)
	}
	if !strings.Contains(defErr.Path, "pattern") {
		t.Errorf("expected pattern path, got %q", defErr.Path)
	}
}

func TestValidate_RegexRequiresPattern(t *testing.T) {
	s := validSurvey()
	s.Steps[1].Kind = StepKindRegex
	s.Steps[1].Validation = nil
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for regex step without pattern")
	}
}

func TestValidate_ChoiceRequiresOptions(t *testing.T) {
	s := validSurvey()
	s.Steps[1].Kind = StepKindChoice
	s.Steps[1].Validation = &ValidationRules{}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for choice step without choices")
	}

	s = validSurvey()
	s.Steps[1].Kind = StepKindChoice
	s.Steps[1].Validation = &ValidationRules{Choices: []ChoiceOption{{Display: "yes"}}}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for choice option without value")
	}
}

func TestValidate_TerminalCannotDeclareNext(t *testing.T) {
	s := validSurvey()
	s.Steps[2].Next = "consent"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for terminal step with next")
	}
}

func TestValidate_NonTerminalRequiresNext(t *testing.T) {
	s := validSurvey()
	s.Steps[1].Next = ""
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for non-terminal step without next")
	}
}

func TestValidate_LengthBounds(t *testing.T) {
	s := validSurvey()
	minLen, maxLen := 10, 2
	s.Steps[1].Validation = &ValidationRules{MinLength: &minLen, MaxLength: &maxLen}
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for max_length < min_length")
	}
}

func TestValidate_SettingsBounds(t *testing.T) {
	s := validSurvey()
	s.Settings.MaxRetryAttempts = 99
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for out-of-range max_retry_attempts")
	}

	s = validSurvey()
	s.Settings.TimeoutHours = 1000
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for out-of-range timeout_hours")
	}
}

func TestValidate_UnknownConsentStep(t *testing.T) {
	s := validSurvey()
	s.Consent.StepID = "ghost"
	if err := s.Validate(); err == nil {
		t.Fatal("expected error for consent referencing unknown step")
	}
}

func TestConsentMatching(t *testing.T) {
	c := ConsentConfig{AcceptValues: []string{"yes", "y"}, DeclineValues: []string{"no"}}
	if !c.Accepts("YES") || !c.Accepts("y") {
		t.Error("expected case-insensitive accept match")
	}
	if !c.Declines("No") {
		t.Error("expected case-insensitive decline match")
	}
	if c.Accepts("maybe") || c.Declines("maybe") {
		t.Error("unexpected match for unrecognized token")
	}
}

func TestMatchesStartWord(t *testing.T) {
	m := SurveyMetadata{StartWords: []string{"intake", "begin"}}
	if !m.MatchesStartWord("  INTAKE ") {
		t.Error("expected trimmed, case-insensitive start word match")
	}
	if m.MatchesStartWord("intake now") {
		t.Error("expected no match for multi-word body")
	}
}
