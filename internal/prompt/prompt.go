// Package prompt holds the code-generation prompt template and the
// suggestion shortcuts offered in the UI.
package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed default_pack.yaml
var defaultPackYAML []byte

// ErrNoTemplate is returned when a pack has an empty template.
var ErrNoTemplate = errors.New("prompt pack has no template")

// Suggestion is a one-click example description.
type Suggestion struct {
	Label  string `yaml:"label" json:"label"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

// Pack is the on-disk prompt configuration.
type Pack struct {
	Template    string       `yaml:"template"`
	Suggestions []Suggestion `yaml:"suggestions"`
}

type templateData struct {
	UserPrompt string
}

type compiled struct {
	pack Pack
	tmpl *template.Template
}

// Library serves the active prompt pack. It is safe for concurrent use and
// can be swapped at runtime by Reload.
type Library struct {
	mu   sync.RWMutex
	cur  *compiled
	path string
}

// Default returns a library backed by the built-in pack.
func Default() *Library {
	c, err := compile(defaultPackYAML)
	if err != nil {
		panic("prompt: built-in pack is invalid: " + err.Error())
	}
	return &Library{cur: c}
}

// Load returns a library for the pack at path. An empty path yields the
// built-in pack.
func Load(path string) (*Library, error) {
	if path == "" {
		return Default(), nil
	}
	lib := &Library{path: path}
	if err := lib.Reload(); err != nil {
		return nil, err
	}
	return lib, nil
}

// Path returns the backing file, or "" for the built-in pack.
func (l *Library) Path() string {
	return l.path
}

// Reload re-reads the backing file. On error the previous pack stays active.
func (l *Library) Reload() error {
	if l.path == "" {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return fmt.Errorf("read prompt pack %s: %w", l.path, err)
	}
	c, err := compile(data)
	if err != nil {
		return fmt.Errorf("load prompt pack %s: %w", l.path, err)
	}
	l.mu.Lock()
	l.cur = c
	l.mu.Unlock()
	return nil
}

// Build renders the generation prompt for a user description.
func (l *Library) Build(userPrompt string) (string, error) {
	l.mu.RLock()
	tmpl := l.cur.tmpl
	l.mu.RUnlock()

	var b strings.Builder
	if err := tmpl.Execute(&b, templateData{UserPrompt: userPrompt}); err != nil {
		return "", fmt.Errorf("render prompt template: %w", err)
	}
	return b.String(), nil
}

// Suggestions returns a copy of the suggestion shortcuts.
func (l *Library) Suggestions() []Suggestion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Suggestion, len(l.cur.pack.Suggestions))
	copy(out, l.cur.pack.Suggestions)
	return out
}

// Lookup finds a suggestion by its label, ignoring case.
func (l *Library) Lookup(label string) (Suggestion, bool) {
	label = strings.TrimSpace(label)
	for _, s := range l.Suggestions() {
		if strings.EqualFold(s.Label, label) {
			return s, true
		}
	}
	return Suggestion{}, false
}

func compile(data []byte) (*compiled, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if strings.TrimSpace(pack.Template) == "" {
		return nil, ErrNoTemplate
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(pack.Template)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	valid := pack.Suggestions[:0]
	for _, s := range pack.Suggestions {
		if strings.TrimSpace(s.Label) == "" || strings.TrimSpace(s.Prompt) == "" {
			continue
		}
		valid = append(valid, s)
	}
	pack.Suggestions = valid
	return &compiled{pack: pack, tmpl: tmpl}, nil
}
