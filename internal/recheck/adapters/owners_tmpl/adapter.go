// Package ownerstmpl renders the OWNERS ownership descriptor that authorizes
// the bot account to submit a chart.
package ownerstmpl

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"

	"github.com/pmezard/go-difflib/difflib"
	"gopkg.in/yaml.v3"

	"github.com/nathantilsley/chart-recheck/internal/recheck/domain"
)

// DefaultTemplate is the OWNERS layout expected by the submission workflow.
const DefaultTemplate = `chart:
  name: {{ .chart_name }}
  shortDescription: Test chart for testing chart submission workflows.
publicPgpKey: null
users:
- githubUsername: {{ .bot_name }}
vendor:
  label: {{ .vendor }}
  name: {{ .vendor }}
`

// Owners is the subset of the OWNERS schema that must be filled in.
type Owners struct {
	Chart struct {
		Name string `yaml:"name"`
	} `yaml:"chart"`
	Users []struct {
		GithubUsername string `yaml:"githubUsername"`
	} `yaml:"users"`
	Vendor struct {
		Label string `yaml:"label"`
		Name  string `yaml:"name"`
	} `yaml:"vendor"`
}

var missingKey = regexp.MustCompile(`map has no entry for key "([^"]+)"`)

// Adapter implements ports.DescriptorPort with text/template.
type Adapter struct {
	tmpl *template.Template
}

// New parses the descriptor template. Unresolved variables fail rendering.
func New(text string) (*Adapter, error) {
	tmpl, err := template.New("OWNERS").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parsing descriptor template: %w", err)
	}
	return &Adapter{tmpl: tmpl}, nil
}

// Render substitutes vars into the template. A missing or empty variable
// returns a *domain.TemplateError.
func (a *Adapter) Render(vars map[string]string) ([]byte, error) {
	for k, v := range vars {
		if strings.TrimSpace(v) == "" {
			return nil, &domain.TemplateError{Variable: k}
		}
	}

	var buf bytes.Buffer
	if err := a.tmpl.Execute(&buf, vars); err != nil {
		if m := missingKey.FindStringSubmatch(err.Error()); m != nil {
			return nil, &domain.TemplateError{Variable: m[1], Err: err}
		}
		return nil, &domain.TemplateError{Err: err}
	}

	if err := validate(buf.Bytes()); err != nil {
		return nil, &domain.TemplateError{Err: err}
	}
	return buf.Bytes(), nil
}

// validate checks the rendered document decodes and names a chart, a user
// and a vendor.
func validate(content []byte) error {
	var o Owners
	if err := yaml.Unmarshal(content, &o); err != nil {
		return fmt.Errorf("rendered descriptor is not valid yaml: %w", err)
	}
	switch {
	case o.Chart.Name == "":
		return errors.New("rendered descriptor has no chart name")
	case len(o.Users) == 0 || o.Users[0].GithubUsername == "":
		return errors.New("rendered descriptor has no github user")
	case o.Vendor.Name == "":
		return errors.New("rendered descriptor has no vendor name")
	}
	return nil
}

// Write stores content at path unless the file already holds identical
// content, and reports whether anything changed.
func (a *Adapter) Write(path string, content []byte) (bool, error) {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("reading %s: %w", path, err)
	}
	if Diff(path, existing, content) == "" {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil { //nolint:gosec // OWNERS is committed to a public repo
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	return true, nil
}

// Diff returns the unified diff between the current and rendered
// descriptor, or "" when they are identical.
func Diff(name string, current, rendered []byte) string {
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(rendered)),
		FromFile: name + " (current)",
		ToFile:   name + " (rendered)",
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return fmt.Sprintf("error computing diff: %s", err)
	}
	return strings.TrimSpace(text)
}
