package util

import (
	"bytes"
	"strings"
	"text/template"
)

var funcs = template.FuncMap{
	"default": func(def any, val any) any {
		if val == nil || val == "" {
			return def
		}
		return val
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
}

// ParseTemplate parses text once so callers can render it repeatedly.
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Funcs(funcs).Option("missingkey=zero").Parse(text)
}

// RenderTemplate renders text against data. Text without actions is returned
// unchanged.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}
	tmpl, err := ParseTemplate("prompt", text)
	if err != nil {
		return "", err
	}
	return Execute(tmpl, data)
}

// Execute renders a parsed template.
func Execute(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
