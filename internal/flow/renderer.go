package flow

import (
	"bytes"
	"fmt"
	"text/template"
)

// RenderError describes a prompt template that could not be rendered,
// including any reference to a variable never stored in the context.
// Rendering fails loudly instead of sending a broken message to a live
// conversation.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render template: %v", e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Render substitutes context variables into a prompt template. Templates use
// Go template syntax ({{.name}}, conditionals, range loops) over context
// variables only. An undefined variable reference is a hard RenderError, not
// a blank substitution. The returned string is the exact text to transmit;
// no truncation happens here.
func Render(templateText string, context map[string]string) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(templateText)
	if err != nil {
		return "", &RenderError{Template: templateText, Err: err}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, context); err != nil {
		return "", &RenderError{Template: templateText, Err: err}
	}
	return buf.String(), nil
}
