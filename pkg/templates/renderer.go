// Package templates renders the per-stage prompts of the generation pipeline.
// Each stage template defines a "system" and a "user" block.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed *.tpl.md
var templateFS embed.FS

// StageTemplate names an embedded stage template.
type StageTemplate string

const (
	SpecificationTemplate  StageTemplate = "specification.tpl.md"
	TestingTemplate        StageTemplate = "testing.tpl.md"
	ImplementationTemplate StageTemplate = "implementation.tpl.md"
	ReviewTemplate         StageTemplate = "review.tpl.md"
)

// TemplateData holds every value a stage prompt may reference.
type TemplateData struct {
	Request        string
	Specification  string
	Tests          string
	Implementation string
	Feedback       string // omitted from the implementation prompt when empty

	Language  string // e.g. "Python"
	Framework string // e.g. "pytest"
	Module    string // module name the tests import
	Fence     string // info string for fenced code, e.g. "python"

	Attempt     int // 1-based
	MaxAttempts int
}

// Prompt is a rendered stage prompt.
type Prompt struct {
	System string
	User   string
}

// Renderer holds the parsed stage templates.
type Renderer struct {
	templates map[StageTemplate]*template.Template
}

// NewRenderer parses all embedded stage templates.
func NewRenderer() (*Renderer, error) {
	r := &Renderer{templates: make(map[StageTemplate]*template.Template)}

	for _, name := range []StageTemplate{
		SpecificationTemplate,
		TestingTemplate,
		ImplementationTemplate,
		ReviewTemplate,
	} {
		content, err := templateFS.ReadFile(string(name))
		if err != nil {
			return nil, fmt.Errorf("failed to read template %s: %w", name, err)
		}
		tmpl, err := template.New(string(name)).Option("missingkey=error").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		for _, block := range []string{"system", "user"} {
			if tmpl.Lookup(block) == nil {
				return nil, fmt.Errorf("template %s has no %q block", name, block)
			}
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render renders both blocks of a stage template.
func (r *Renderer) Render(name StageTemplate, data *TemplateData) (Prompt, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return Prompt{}, fmt.Errorf("template %s not found", name)
	}
	system, err := execute(tmpl, "system", data)
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	user, err := execute(tmpl, "user", data)
	if err != nil {
		return Prompt{}, fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return Prompt{System: system, User: user}, nil
}

func execute(tmpl *template.Template, block string, data *TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, block, data); err != nil {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	return strings.TrimSpace(buf.String()), nil
}

// FenceFor returns the code-fence info string for a language name.
func FenceFor(language string) string {
	return strings.ToLower(strings.ReplaceAll(language, " ", ""))
}
