// Package prompt renders grading prompts from a user-editable template.
package prompt

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/noah-isme/gema-grader/internal/models"
)

//go:embed templates/grading.tmpl
var templateFiles embed.FS

// DefaultLanguage is assumed when neither the lesson nor the caller names one.
const DefaultLanguage = "Vietnamese"

// ErrTemplate marks template parse or render failures. These are
// configuration errors and are never retried.
var ErrTemplate = errors.New("prompt template error")

// Compiler turns a rubric and a submission into the final grading prompt.
type Compiler interface {
	Compile(rubric models.Rubric, submission string, language string) (string, error)
}

type templateData struct {
	Language       string
	GradingContext string
	Question       string
	Criteria       []models.RubricCriterion
	TotalPoints    int
	Submission     string
	Solution       string
}

type templateCompiler struct {
	tmpl            *template.Template
	defaultLanguage string
}

// NewCompiler parses the template at path, or the embedded default when path is empty.
func NewCompiler(path string, defaultLanguage string) (Compiler, error) {
	var (
		source []byte
		err    error
	)
	if path == "" {
		source, err = templateFiles.ReadFile("templates/grading.tmpl")
	} else {
		source, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read template: %v", ErrTemplate, err)
	}

	return NewCompilerFromString(string(source), defaultLanguage)
}

// NewCompilerFromString parses an in-memory template. Missing keys fail the render.
func NewCompilerFromString(text string, defaultLanguage string) (Compiler, error) {
	tmpl, err := template.New("grading").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrTemplate, err)
	}
	if strings.TrimSpace(defaultLanguage) == "" {
		defaultLanguage = DefaultLanguage
	}
	return &templateCompiler{tmpl: tmpl, defaultLanguage: defaultLanguage}, nil
}

// Compile is deterministic: identical inputs render byte-identical prompts.
// The language argument overrides the lesson's own language when set.
func (c *templateCompiler) Compile(rubric models.Rubric, submission string, language string) (string, error) {
	language = strings.TrimSpace(language)
	if language == "" {
		language = rubric.Language
	}
	if language == "" {
		language = c.defaultLanguage
	}

	data := templateData{
		Language:       language,
		GradingContext: strings.TrimSpace(rubric.GradingContext),
		Question:       strings.TrimSpace(rubric.Question),
		Criteria:       rubric.Criteria,
		TotalPoints:    rubric.TotalPoints(),
		Submission:     strings.TrimSpace(submission),
		Solution:       strings.TrimSpace(rubric.Solution),
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("%w: render: %v", ErrTemplate, err)
	}
	return buf.String(), nil
}
