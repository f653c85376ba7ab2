package survey

import (
	"errors"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

func graphSurvey(steps []models.SurveyStep) *models.Survey {
	return &models.Survey{
		Metadata: models.SurveyMetadata{ID: "g", Name: "G", Version: "1.0.0", StartWords: []string{"g"}},
		Consent: models.ConsentConfig{
			StepID:         "consent",
			Text:           "Reply YES or NO.",
			AcceptValues:   []string{"yes"},
			DeclineValues:  []string{"no"},
			DeclineMessage: "Bye.",
		},
		Steps: steps,
	}
}

func TestValidateGraph_Acyclic(t *testing.T) {
	s := graphSurvey([]models.SurveyStep{
		{ID: "consent", Text: "c", Kind: models.StepKindText, Next: "a"},
		{ID: "a", Text: "a", Kind: models.StepKindText, Next: "done"},
		{ID: "done", Text: "d", Kind: models.StepKindTerminal},
	})
	if err := ValidateGraph(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateGraph_DirectCycle(t *testing.T) {
	s := graphSurvey([]models.SurveyStep{
		{ID: "consent", Text: "c", Kind: models.StepKindText, Next: "a"},
		{ID: "a", Text: "a", Kind: models.StepKindText, Next: "b"},
		{ID: "b", Text: "b", Kind: models.StepKindText, Next: "a"},
	})
	err := ValidateGraph(s)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if cycleErr.SurveyID != "g" {
		t.Errorf("unexpected survey id %q", cycleErr.SurveyID)
	}
}

func TestValidateGraph_SelfLoop(t *testing.T) {
	s := graphSurvey([]models.SurveyStep{
		{ID: "consent", Text: "c", Kind: models.StepKindText, Next: "a"},
		{ID: "a", Text: "a", Kind: models.StepKindText, Next: "a"},
	})
	var cycleErr *CycleError
	if !errors.As(ValidateGraph(s), &cycleErr) {
		t.Fatal("expected CycleError for self loop")
	}
	if cycleErr.StepID != "a" {
		t.Errorf("expected cycle through a, got %q", cycleErr.StepID)
	}
}

func TestValidateGraph_CycleViaConditional(t *testing.T) {
	s := graphSurvey([]models.SurveyStep{
		{ID: "consent", Text: "c", Kind: models.StepKindText, Next: "a"},
		{
			ID: "a", Text: "a", Kind: models.StepKindText,
			NextConditional: []models.ConditionalNext{{Condition: `x == "1"`, Next: "consent"}},
			Next:            "done",
		},
		{ID: "done", Text: "d", Kind: models.StepKindTerminal},
	})
	var cycleErr *CycleError
	if !errors.As(ValidateGraph(s), &cycleErr) {
		t.Fatal("expected CycleError for conditional back-edge")
	}
}

func TestValidateGraph_CycleInDetachedBranch(t *testing.T) {
	s := graphSurvey([]models.SurveyStep{
		{ID: "consent", Text: "c", Kind: models.StepKindText, Next: "done"},
		{ID: "done", Text: "d", Kind: models.StepKindTerminal},
		{ID: "orphan1", Text: "o1", Kind: models.StepKindText, Next: "orphan2"},
		{ID: "orphan2", Text: "o2", Kind: models.StepKindText, Next: "orphan1"},
	})
	var cycleErr *CycleError
	if !errors.As(ValidateGraph(s), &cycleErr) {
		t.Fatal("expected CycleError in detached branch")
	}
}

func TestValidateGraph_UnreachableStepsAreNotFatal(t *testing.T) {
	// Unreachable non-terminal steps produce a diagnostic, not an error.
	s := graphSurvey([]models.SurveyStep{
		{ID: "consent", Text: "c", Kind: models.StepKindText, Next: "done"},
		{ID: "orphan", Text: "o", Kind: models.StepKindText, Next: "done"},
		{ID: "done", Text: "d", Kind: models.StepKindTerminal},
	})
	if err := ValidateGraph(s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
