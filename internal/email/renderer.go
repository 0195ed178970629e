package email

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"

	pkgerrors "github.com/jwalitptl/email-service/pkg/errors"
)

// Renderer resolves template IDs against a directory of HTML templates
// loaded at startup. Rendering is a pure function of template and
// variables; a missing or broken template is a retryable delivery failure.
type Renderer struct {
	templates *template.Template
}

func NewRenderer(dir string) (*Renderer, error) {
	templates, err := template.ParseGlob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, fmt.Errorf("failed to load templates from %s: %w", dir, err)
	}
	return &Renderer{templates: templates}, nil
}

func (r *Renderer) Render(templateID string, variables map[string]interface{}) (string, error) {
	tmpl := r.templates.Lookup(templateID)
	if tmpl == nil {
		return "", pkgerrors.NewRender(templateID, fmt.Errorf("template not found"))
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, variables); err != nil {
		return "", pkgerrors.NewRender(templateID, err)
	}
	return buf.String(), nil
}
