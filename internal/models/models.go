// Package models defines the core data structures for SurveyPipe.
//
// It includes the typed representation of survey definitions (metadata,
// consent, settings, steps) and the schema-level validation applied to
// untrusted, hand-edited definition documents.
package models

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// StepKind defines how a step validates and interprets user input.
type StepKind string

const (
	// StepKindText accepts free text, optionally bounded by length rules.
	StepKindText StepKind = "free_text"
	// StepKindRegex accepts input fully matching a declared pattern.
	StepKindRegex StepKind = "pattern"
	// StepKindChoice accepts one of an ordered list of display options.
	StepKindChoice StepKind = "choice"
	// StepKindTerminal ends the survey; any input is accepted.
	StepKindTerminal StepKind = "terminal"
)

// Validation constants for survey definitions
const (
	// MinRetryAttempts defines the lowest allowed max_retry_attempts setting
	MinRetryAttempts = 1
	// MaxRetryAttempts defines the highest allowed max_retry_attempts setting
	MaxRetryAttempts = 10
	// MinTimeoutHours defines the lowest allowed session timeout
	MinTimeoutHours = 1
	// MaxTimeoutHours defines the highest allowed session timeout (one week)
	MaxTimeoutHours = 168
	// DefaultRetryAttempts is used when a definition omits max_retry_attempts
	DefaultRetryAttempts = 3
	// DefaultTimeoutHours is used when a definition omits timeout_hours
	DefaultTimeoutHours = 24
	// DefaultRetryExceededMessage is used when a definition omits retry_exceeded_message
	DefaultRetryExceededMessage = "Too many invalid attempts. Moving to the next question."
)

// semverPattern matches the simple MAJOR.MINOR.PATCH version strings
// required in survey metadata.
var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// surveyIDPattern restricts survey identifiers to filename-safe characters.
var surveyIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Error variables for better error handling and testability
var (
	ErrSessionCompleted = errors.New("session is already completed")
	ErrStepNotFound     = errors.New("step not found in survey definition")
	ErrNoNextStep       = errors.New("no reachable next step")
)

// IsValidStepKind checks if the given step kind is supported.
func IsValidStepKind(k StepKind) bool {
	switch k {
	case StepKindText, StepKindRegex, StepKindChoice, StepKindTerminal:
		return true
	default:
		return false
	}
}

// DefinitionError describes a schema-level fault in a survey definition.
// Path is a human-readable location such as "steps[2].validation.pattern".
type DefinitionError struct {
	SurveyID string
	Path     string
	Message  string
}

func (e *DefinitionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("survey %q: %s", e.SurveyID, e.Message)
	}
	return fmt.Sprintf("survey %q: %s: %s", e.SurveyID, e.Path, e.Message)
}

// definitionErrorf builds a DefinitionError with a formatted message.
func definitionErrorf(surveyID, path, format string, args ...interface{}) *DefinitionError {
	return &DefinitionError{SurveyID: surveyID, Path: path, Message: fmt.Sprintf(format, args...)}
}

// ChoiceOption is a single selectable option for choice-kind steps.
// Display is matched case-insensitively against user input; Value is what
// gets stored in the session context when the option is chosen.
type ChoiceOption struct {
	Display string `yaml:"display" json:"display"`
	Value   string `yaml:"value" json:"value"`
}

// ValidationRules carries the per-kind validation payload for a step.
// Text steps use MinLength/MaxLength, regex steps use Pattern, choice steps
// use Choices. Terminal steps carry no rules.
type ValidationRules struct {
	MinLength *int           `yaml:"min_length,omitempty" json:"min_length,omitempty"`
	MaxLength *int           `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	Pattern   string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Choices   []ChoiceOption `yaml:"choices,omitempty" json:"choices,omitempty"`
}

// ConditionalNext routes to Next when Condition evaluates true against the
// session context. Conditions use a restricted boolean expression language;
// they never execute arbitrary code.
type ConditionalNext struct {
	Condition string `yaml:"condition" json:"condition"`
	Next      string `yaml:"next" json:"next"`
}

// SurveyStep is one node in the survey graph: a prompt template, a
// validation rule, an optional storage variable, and next-step resolution.
type SurveyStep struct {
	ID              string            `yaml:"id" json:"id"`
	Text            string            `yaml:"text" json:"text"`
	Kind            StepKind          `yaml:"type" json:"type"`
	Validation      *ValidationRules  `yaml:"validation,omitempty" json:"validation,omitempty"`
	StoreAs         string            `yaml:"store_as,omitempty" json:"store_as,omitempty"`
	Next            string            `yaml:"next,omitempty" json:"next,omitempty"`
	NextConditional []ConditionalNext `yaml:"next_conditional,omitempty" json:"next_conditional,omitempty"`
	ErrorMessage    string            `yaml:"error_message,omitempty" json:"error_message,omitempty"`
}

// IsTerminal reports whether the step ends the survey.
func (s *SurveyStep) IsTerminal() bool {
	return s.Kind == StepKindTerminal
}

// ConsentConfig defines the consent gate placed before any survey question.
// Accept and decline tokens are matched case-insensitively. The consent step
// is not a regular graph node but shares prompt rendering rules.
type ConsentConfig struct {
	StepID         string   `yaml:"step_id" json:"step_id"`
	Text           string   `yaml:"text" json:"text"`
	AcceptValues   []string `yaml:"accept_values" json:"accept_values"`
	DeclineValues  []string `yaml:"decline_values" json:"decline_values"`
	DeclineMessage string   `yaml:"decline_message" json:"decline_message"`
}

// Accepts reports whether the normalized input matches an accept token.
func (c *ConsentConfig) Accepts(normalized string) bool {
	return containsFold(c.AcceptValues, normalized)
}

// Declines reports whether the normalized input matches a decline token.
func (c *ConsentConfig) Declines(normalized string) bool {
	return containsFold(c.DeclineValues, normalized)
}

func containsFold(values []string, s string) bool {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// SurveySettings holds global per-survey behavior knobs.
type SurveySettings struct {
	MaxRetryAttempts     int    `yaml:"max_retry_attempts" json:"max_retry_attempts"`
	RetryExceededMessage string `yaml:"retry_exceeded_message" json:"retry_exceeded_message"`
	TimeoutHours         int    `yaml:"timeout_hours" json:"timeout_hours"`
}

// applyDefaults fills zero-valued settings with their defaults.
func (s *SurveySettings) applyDefaults() {
	if s.MaxRetryAttempts == 0 {
		s.MaxRetryAttempts = DefaultRetryAttempts
	}
	if s.RetryExceededMessage == "" {
		s.RetryExceededMessage = DefaultRetryExceededMessage
	}
	if s.TimeoutHours == 0 {
		s.TimeoutHours = DefaultTimeoutHours
	}
}

// SurveyMetadata identifies a survey definition.
type SurveyMetadata struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	Version     string   `yaml:"version" json:"version"`
	StartWords  []string `yaml:"start_words" json:"start_words"`
}

// MatchesStartWord reports whether the body matches one of the survey's
// trigger words (case-insensitive).
func (m *SurveyMetadata) MatchesStartWord(body string) bool {
	return containsFold(m.StartWords, strings.TrimSpace(body))
}

// Survey is a complete, versioned survey definition. Instances are immutable
// after validation and safe to share across concurrent sessions; all
// step references are id lookups into the step table, never pointers.
type Survey struct {
	Metadata SurveyMetadata `yaml:"metadata" json:"metadata"`
	Consent  ConsentConfig  `yaml:"consent" json:"consent"`
	Settings SurveySettings `yaml:"settings" json:"settings"`
	Steps    []SurveyStep   `yaml:"steps" json:"steps"`

	stepIndex map[string]*SurveyStep
}

// GetStep returns the step with the given id, or nil if it does not exist.
func (s *Survey) GetStep(stepID string) *SurveyStep {
	if s.stepIndex == nil {
		s.buildIndex()
	}
	return s.stepIndex[stepID]
}

func (s *Survey) buildIndex() {
	s.stepIndex = make(map[string]*SurveyStep, len(s.Steps))
	for i := range s.Steps {
		s.stepIndex[s.Steps[i].ID] = &s.Steps[i]
	}
}

// Validate performs schema-level validation of the survey definition.
// It checks required fields, per-kind validation payloads, declared pattern
// compilability, duplicate step ids, and dangling step references.
// Graph-level checks (cycles, reachability) are performed separately by the
// survey loader.
func (s *Survey) Validate() error {
	id := s.Metadata.ID
	if err := s.validateMetadata(); err != nil {
		return err
	}
	if err := s.validateConsent(); err != nil {
		return err
	}
	if err := s.validateSettings(); err != nil {
		return err
	}
	if len(s.Steps) == 0 {
		return definitionErrorf(id, "steps", "survey must declare at least one step")
	}

	seen := make(map[string]bool, len(s.Steps))
	for i := range s.Steps {
		step := &s.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if step.ID == "" {
			return definitionErrorf(id, path+".id", "step id is required")
		}
		if seen[step.ID] {
			return definitionErrorf(id, path+".id", "duplicate step id %q", step.ID)
		}
		seen[step.ID] = true
		if err := s.validateStep(step, path); err != nil {
			return err
		}
	}

	// All references must resolve to declared step ids.
	if !seen[s.Consent.StepID] {
		return definitionErrorf(id, "consent.step_id", "references unknown step %q", s.Consent.StepID)
	}
	for i := range s.Steps {
		step := &s.Steps[i]
		path := fmt.Sprintf("steps[%d]", i)
		if step.Next != "" && !seen[step.Next] {
			return definitionErrorf(id, path+".next", "references unknown step %q", step.Next)
		}
		for j, cond := range step.NextConditional {
			if !seen[cond.Next] {
				return definitionErrorf(id, fmt.Sprintf("%s.next_conditional[%d].next", path, j),
					"references unknown step %q", cond.Next)
			}
		}
	}

	s.buildIndex()
	return nil
}

func (s *Survey) validateMetadata() error {
	id := s.Metadata.ID
	if id == "" {
		return definitionErrorf(id, "metadata.id", "survey id is required")
	}
	if !surveyIDPattern.MatchString(id) {
		return definitionErrorf(id, "metadata.id", "survey id must be alphanumeric with underscores or hyphens")
	}
	if s.Metadata.Name == "" {
		return definitionErrorf(id, "metadata.name", "survey name is required")
	}
	if !semverPattern.MatchString(s.Metadata.Version) {
		return definitionErrorf(id, "metadata.version", "version %q is not a MAJOR.MINOR.PATCH version", s.Metadata.Version)
	}
	if len(s.Metadata.StartWords) == 0 {
		return definitionErrorf(id, "metadata.start_words", "at least one start word is required")
	}
	return nil
}

func (s *Survey) validateConsent() error {
	id := s.Metadata.ID
	if s.Consent.StepID == "" {
		return definitionErrorf(id, "consent.step_id", "consent step id is required")
	}
	if s.Consent.Text == "" {
		return definitionErrorf(id, "consent.text", "consent text is required")
	}
	if len(s.Consent.AcceptValues) == 0 {
		return definitionErrorf(id, "consent.accept_values", "at least one accept token is required")
	}
	if len(s.Consent.DeclineValues) == 0 {
		return definitionErrorf(id, "consent.decline_values", "at least one decline token is required")
	}
	if s.Consent.DeclineMessage == "" {
		return definitionErrorf(id, "consent.decline_message", "decline message is required")
	}
	return nil
}

func (s *Survey) validateSettings() error {
	id := s.Metadata.ID
	s.Settings.applyDefaults()
	if s.Settings.MaxRetryAttempts < MinRetryAttempts || s.Settings.MaxRetryAttempts > MaxRetryAttempts {
		return definitionErrorf(id, "settings.max_retry_attempts", "must be between %d and %d", MinRetryAttempts, MaxRetryAttempts)
	}
	if s.Settings.TimeoutHours < MinTimeoutHours || s.Settings.TimeoutHours > MaxTimeoutHours {
		return definitionErrorf(id, "settings.timeout_hours", "must be between %d and %d", MinTimeoutHours, MaxTimeoutHours)
	}
	return nil
}

func (s *Survey) validateStep(step *SurveyStep, path string) error {
	id := s.Metadata.ID
	if step.Text == "" {
		return definitionErrorf(id, path+".text", "step text is required")
	}
	if !IsValidStepKind(step.Kind) {
		return definitionErrorf(id, path+".type", "unknown step type %q", step.Kind)
	}

	switch step.Kind {
	case StepKindTerminal:
		if step.Next != "" || len(step.NextConditional) > 0 {
			return definitionErrorf(id, path, "terminal steps cannot declare next or next_conditional")
		}
	case StepKindRegex:
		if step.Validation == nil || step.Validation.Pattern == "" {
			return definitionErrorf(id, path+".validation.pattern", "regex steps require a pattern")
		}
		// An invalid declared pattern is an authoring fault, surfaced here
		// rather than at each inbound message.
		if _, err := regexp.Compile(step.Validation.Pattern); err != nil {
			return definitionErrorf(id, path+".validation.pattern", "invalid pattern: %v", err)
		}
	case StepKindChoice:
		if step.Validation == nil || len(step.Validation.Choices) == 0 {
			return definitionErrorf(id, path+".validation.choices", "choice steps require at least one choice")
		}
		for j, c := range step.Validation.Choices {
			if c.Display == "" || c.Value == "" {
				return definitionErrorf(id, fmt.Sprintf("%s.validation.choices[%d]", path, j),
					"choice options require display and value")
			}
		}
	case StepKindText:
		if step.Validation != nil && step.Validation.MinLength != nil && step.Validation.MaxLength != nil {
			if *step.Validation.MaxLength < *step.Validation.MinLength {
				return definitionErrorf(id, path+".validation.max_length", "max_length must be >= min_length")
			}
		}
	}

	if !step.IsTerminal() && step.Next == "" && len(step.NextConditional) == 0 {
		return definitionErrorf(id, path, "non-terminal step %q must declare next or next_conditional", step.ID)
	}

	for j, cond := range step.NextConditional {
		if cond.Condition == "" {
			return definitionErrorf(id, fmt.Sprintf("%s.next_conditional[%d].condition", path, j), "condition is required")
		}
		if cond.Next == "" {
			return definitionErrorf(id, fmt.Sprintf("%s.next_conditional[%d].next", path, j), "next is required")
		}
	}
	return nil
}
