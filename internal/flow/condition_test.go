package flow

import (
	"errors"
	"testing"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

func TestEvaluateCondition_Comparison(t *testing.T) {
	ctx := map[string]string{"mood": "low", "name": "Ada"}

	ok, err := EvaluateCondition(`mood == "low"`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected condition to be true")
	}

	ok, err = EvaluateCondition(`mood != "low"`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected condition to be false")
	}
}

func TestEvaluateCondition_BooleanConnectives(t *testing.T) {
	ctx := map[string]string{"a": "1", "b": "2"}
	ok, err := EvaluateCondition(`a == "1" && b == "2"`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected conjunction to be true")
	}

	ok, err = EvaluateCondition(`a == "9" || b == "2"`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected disjunction to be true")
	}
}

func TestEvaluateCondition_MembershipTest(t *testing.T) {
	ctx := map[string]string{"mood": "low"}
	ok, err := EvaluateCondition(`mood in ["low", "okay"]`, ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Error("expected membership test to be true")
	}
}

func TestEvaluateCondition_UndefinedVariable(t *testing.T) {
	_, err := EvaluateCondition(`ghost == "x"`, map[string]string{"mood": "low"})
	var exprErr *ExpressionError
	if !errors.As(err, &exprErr) {
		t.Fatalf("expected ExpressionError, got %v", err)
	}
	if exprErr.Condition != `ghost == "x"` {
		t.Errorf("unexpected condition in error: %q", exprErr.Condition)
	}
}

func TestEvaluateCondition_DoesNotMutateContext(t *testing.T) {
	ctx := map[string]string{"mood": "low"}
	if _, err := EvaluateCondition(`mood == "low"`, ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ctx) != 1 || ctx["mood"] != "low" {
		t.Errorf("context mutated: %v", ctx)
	}
}

func TestResolveNextStep_FirstMatchWins(t *testing.T) {
	step := &models.SurveyStep{
		ID: "branch",
		NextConditional: []models.ConditionalNext{
			{Condition: `mood == "low"`, Next: "support"},
			{Condition: `mood != ""`, Next: "other"},
		},
		Next: "fallback",
	}
	next, err := ResolveNextStep(step, map[string]string{"mood": "low"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "support" {
		t.Errorf("expected first matching branch, got %q", next)
	}
}

func TestResolveNextStep_FallsBackToDefault(t *testing.T) {
	step := &models.SurveyStep{
		ID: "branch",
		NextConditional: []models.ConditionalNext{
			{Condition: `mood == "low"`, Next: "support"},
		},
		Next: "fallback",
	}
	next, err := ResolveNextStep(step, map[string]string{"mood": "good"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "fallback" {
		t.Errorf("expected default next, got %q", next)
	}
}

func TestResolveNextStep_SkipsUnevaluableCondition(t *testing.T) {
	step := &models.SurveyStep{
		ID: "branch",
		NextConditional: []models.ConditionalNext{
			{Condition: `missing == "x"`, Next: "a"},
			{Condition: `mood == "good"`, Next: "b"},
		},
		Next: "fallback",
	}
	next, err := ResolveNextStep(step, map[string]string{"mood": "good"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next != "b" {
		t.Errorf("expected later branch after skipped condition, got %q", next)
	}
}

func TestResolveNextStep_NoNext(t *testing.T) {
	step := &models.SurveyStep{ID: "dead_end"}
	_, err := ResolveNextStep(step, map[string]string{})
	if !errors.Is(err, models.ErrNoNextStep) {
		t.Fatalf("expected ErrNoNextStep, got %v", err)
	}
}
