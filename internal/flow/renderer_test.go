package flow

import (
	"errors"
	"testing"
)

func TestRender_Substitution(t *testing.T) {
	out, err := Render("Thanks {{.name}}, ZIP {{.zip}} noted.", map[string]string{"name": "Ada", "zip": "02139"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "Thanks Ada, ZIP 02139 noted." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRender_PlainText(t *testing.T) {
	out, err := Render("No variables here.", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "No variables here." {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRender_UndefinedVariable(t *testing.T) {
	_, err := Render("Hello {{.ghost}}!", map[string]string{"name": "Ada"})
	var rendErr *RenderError
	if !errors.As(err, &rendErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
}

func TestRender_MalformedTemplate(t *testing.T) {
	_, err := Render("Hello {{.name", map[string]string{"name": "Ada"})
	var rendErr *RenderError
	if !errors.As(err, &rendErr) {
		t.Fatalf("expected RenderError, got %v", err)
	}
}
