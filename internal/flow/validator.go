// Package flow implements the survey conversation engine: input validation,
// conditional branching, prompt rendering, and the per-utterance state
// machine that ties them together.
package flow

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/SurveyPipe/internal/models"
)

// Default validation error messages per step kind
const (
	// DefaultEmptyInputMessage is returned when input is empty after trimming
	DefaultEmptyInputMessage = "Please enter a response."
	// DefaultRegexMismatchMessage is returned when input does not match a pattern
	DefaultRegexMismatchMessage = "Invalid format. Please try again."
)

// ValidationResult is the outcome of validating one utterance against one step.
type ValidationResult struct {
	Valid           bool
	NormalizedValue string
	ErrorMessage    string
}

// Validate checks raw user input against the step's declared rule and
// produces a normalized stored value or a rejection message. Input is
// trimmed of surrounding whitespace before any rule runs.
func Validate(step *models.SurveyStep, rawInput string) ValidationResult {
	normalized := strings.TrimSpace(rawInput)

	// Terminal steps accept anything; the value is rarely used downstream.
	if step.IsTerminal() {
		return ValidationResult{Valid: true, NormalizedValue: normalized}
	}

	if normalized == "" && !allowsEmpty(step) {
		return ValidationResult{ErrorMessage: errorMessage(step, DefaultEmptyInputMessage)}
	}

	switch step.Kind {
	case models.StepKindText:
		return validateText(step, normalized)
	case models.StepKindRegex:
		return validateRegex(step, normalized)
	case models.StepKindChoice:
		return validateChoice(step, normalized)
	default:
		// Unreachable for schema-validated definitions.
		slog.Error("Unknown step kind in validator", "step_id", step.ID, "kind", step.Kind)
		return ValidationResult{ErrorMessage: "Internal error: invalid question type"}
	}
}

// allowsEmpty reports whether the step explicitly permits zero-length input.
func allowsEmpty(step *models.SurveyStep) bool {
	return step.Kind == models.StepKindText &&
		step.Validation != nil &&
		step.Validation.MinLength != nil &&
		*step.Validation.MinLength == 0
}

func validateText(step *models.SurveyStep, normalized string) ValidationResult {
	rules := step.Validation
	if rules == nil {
		return ValidationResult{Valid: true, NormalizedValue: normalized}
	}
	// Length bounds count characters, not bytes.
	length := utf8.RuneCountInString(normalized)
	if rules.MinLength != nil && length < *rules.MinLength {
		msg := errorMessage(step, fmt.Sprintf("Please enter at least %d characters.", *rules.MinLength))
		return ValidationResult{ErrorMessage: msg}
	}
	if rules.MaxLength != nil && length > *rules.MaxLength {
		msg := errorMessage(step, fmt.Sprintf("Please enter no more than %d characters.", *rules.MaxLength))
		return ValidationResult{ErrorMessage: msg}
	}
	return ValidationResult{Valid: true, NormalizedValue: normalized}
}

func validateRegex(step *models.SurveyStep, normalized string) ValidationResult {
	if step.Validation == nil || step.Validation.Pattern == "" {
		slog.Error("Regex step missing pattern", "step_id", step.ID)
		return ValidationResult{ErrorMessage: "Internal error: missing validation pattern"}
	}
	// The declared pattern is compile-checked at definition load time; a
	// failure here means the definition bypassed validation.
	re, err := regexp.Compile("^(?:" + step.Validation.Pattern + ")$")
	if err != nil {
		slog.Error("Invalid regex pattern reached validator", "step_id", step.ID, "error", err)
		return ValidationResult{ErrorMessage: "Internal error: invalid validation pattern"}
	}
	if !re.MatchString(normalized) {
		return ValidationResult{ErrorMessage: errorMessage(step, DefaultRegexMismatchMessage)}
	}
	return ValidationResult{Valid: true, NormalizedValue: normalized}
}

func validateChoice(step *models.SurveyStep, normalized string) ValidationResult {
	if step.Validation == nil || len(step.Validation.Choices) == 0 {
		slog.Error("Choice step missing choices", "step_id", step.ID)
		return ValidationResult{ErrorMessage: "Internal error: missing choice options"}
	}
	// First case-insensitive match in declared order wins; the paired stored
	// value, not the display token, is what gets normalized.
	for _, choice := range step.Validation.Choices {
		if strings.EqualFold(choice.Display, normalized) {
			return ValidationResult{Valid: true, NormalizedValue: choice.Value}
		}
	}
	displays := make([]string, len(step.Validation.Choices))
	for i, choice := range step.Validation.Choices {
		displays[i] = choice.Display
	}
	msg := errorMessage(step, "Please reply with one of: "+strings.Join(displays, ", "))
	return ValidationResult{ErrorMessage: msg}
}

// errorMessage returns the step's declared error message override, or the
// given default.
func errorMessage(step *models.SurveyStep, fallback string) string {
	if step.ErrorMessage != "" {
		return step.ErrorMessage
	}
	return fallback
}
