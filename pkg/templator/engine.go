package templator

import (
	"bytes"
	"fmt"
	"os"
	"text/template"
)

// Engine holds a set of named templates registered from source text and
// renders them to bytes or files. Registration from strings (rather than
// template files on disk) keeps generated artifacts independent of any
// installed template directory.
type Engine struct {
	templates map[string]*template.Template
}

func NewEngine() *Engine {
	return &Engine{
		templates: make(map[string]*template.Template),
	}
}

func (e *Engine) Register(name, text string) error {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	e.templates[name] = tmpl
	return nil
}

func (e *Engine) HasTemplate(name string) bool {
	_, exists := e.templates[name]
	return exists
}

func (e *Engine) RenderToBytes(name string, data any) ([]byte, error) {
	tmpl, exists := e.templates[name]
	if !exists {
		return nil, fmt.Errorf("template %s not found", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template %s: %w", name, err)
	}

	return buf.Bytes(), nil
}

func (e *Engine) RenderToFile(name, outputPath string, perm os.FileMode, data any) error {
	content, err := e.RenderToBytes(name, data)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, content, perm); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", outputPath, err)
	}

	return nil
}
