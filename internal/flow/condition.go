package flow

import (
	"fmt"
	"log/slog"

	"github.com/expr-lang/expr"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// ExpressionError describes a branch condition that could not be evaluated,
// most commonly a reference to a context variable not yet stored.
type ExpressionError struct {
	Condition string
	Err       error
}

func (e *ExpressionError) Error() string {
	return fmt.Sprintf("condition %q: %v", e.Condition, e.Err)
}

func (e *ExpressionError) Unwrap() error { return e.Err }

// EvaluateCondition evaluates a restricted boolean expression against the
// session context. The expression language supports comparisons, membership
// tests, and boolean connectives over context variable names and literals;
// expressions are interpreted, never handed to a host-language evaluator.
// Referencing a variable not present in the context is an ExpressionError.
// Evaluation is pure: the context is never modified.
func EvaluateCondition(condition string, context map[string]string) (bool, error) {
	env := make(map[string]interface{}, len(context))
	for k, v := range context {
		env[k] = v
	}

	// Compiling against the concrete env makes unknown variable names a
	// compile error rather than a silent nil.
	program, err := expr.Compile(condition, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, &ExpressionError{Condition: condition, Err: err}
	}
	output, err := expr.Run(program, env)
	if err != nil {
		return false, &ExpressionError{Condition: condition, Err: err}
	}
	result, ok := output.(bool)
	if !ok {
		return false, &ExpressionError{Condition: condition, Err: fmt.Errorf("expression returned %T, not bool", output)}
	}
	slog.Debug("Condition evaluated", "condition", condition, "result", result)
	return result, nil
}

// ResolveNextStep determines the id of the step to advance to. Conditional
// branches are evaluated in declared order and the first true condition
// wins; a condition that fails to evaluate is logged and treated as false.
// When no condition matches, the step's default next is used. A step with
// neither is a validation gap surfaced as ErrNoNextStep, never silently
// routed to an arbitrary step.
func ResolveNextStep(step *models.SurveyStep, context map[string]string) (string, error) {
	for _, cond := range step.NextConditional {
		matched, err := EvaluateCondition(cond.Condition, context)
		if err != nil {
			slog.Warn("Skipping unevaluable branch condition", "step_id", step.ID, "condition", cond.Condition, "error", err)
			continue
		}
		if matched {
			slog.Debug("Conditional branch matched", "step_id", step.ID, "condition", cond.Condition, "next", cond.Next)
			return cond.Next, nil
		}
	}

	if step.Next != "" {
		slog.Debug("Using default next step", "step_id", step.ID, "next", step.Next)
		return step.Next, nil
	}

	slog.Error("No resolvable next step", "step_id", step.ID)
	return "", fmt.Errorf("step %q: %w", step.ID, models.ErrNoNextStep)
}
