package generate

import (
	"bytes"
	"fmt"
	"text/template"
)

// TemplateRegistry holds the parsed text templates for generated files.
type TemplateRegistry struct {
	fileTmpl *template.Template
}

// NewTemplateRegistry parses all templates. They are constants, so parsing cannot fail at runtime.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		fileTmpl: parseTemplate("file", tmplFile),
	}
}

// WriteFile writes a generated file: header, build constraint, then the printed package body.
func (r *TemplateRegistry) WriteFile(buf *bytes.Buffer, data fileTemplateData) {
	err := r.fileTmpl.Execute(buf, data)
	if err != nil {
		panic(fmt.Sprintf("failed to execute file template: %v", err))
	}
}

// fileTemplateData fills tmplFile.
type fileTemplateData struct {
	Header     string
	Constraint string
	Source     string
	Body       string
}

// parseTemplate panics on an invalid template, a programming error caught by any test.
func parseTemplate(name, content string) *template.Template {
	return template.Must(template.New(name).Parse(content))
}

const tmplFile = `{{.Header}}
// Source: {{.Source}}

//go:build {{.Constraint}}

{{.Body}}`
