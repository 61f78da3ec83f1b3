// Package prompts renders the chat messages sent to the generation backend.
// Templates ship embedded and can be overridden key by key from a YAML file.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/task"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

//go:embed static/prompts.yaml
var defaultYAML []byte

// Template keys.
const (
	KeySystem           = "system"
	KeyGeneration       = "generation"
	KeyBrainstorm       = "brainstorm"
	KeyEvolution        = "evolution"
	KeySyntaxFeedback   = "syntax_feedback"
	KeySemanticFeedback = "semantic_feedback"
)

var requiredKeys = []string{KeySystem, KeyGeneration, KeyBrainstorm, KeyEvolution, KeySyntaxFeedback, KeySemanticFeedback}

// Store holds parsed templates. It is safe for concurrent use.
type Store struct {
	templates map[string]*template.Template
}

// Load returns the embedded default prompts.
func Load() (*Store, error) {
	return build(nil)
}

// LoadFile returns the defaults with keys overridden from path. An empty path
// is the same as Load.
func LoadFile(path string) (*Store, error) {
	if path == "" {
		return Load()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse prompts %s: %w", path, err)
	}
	return build(overrides)
}

func build(overrides map[string]string) (*Store, error) {
	var raw map[string]string
	if err := yaml.Unmarshal(defaultYAML, &raw); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	for k, v := range overrides {
		raw[k] = v
	}

	s := &Store{templates: make(map[string]*template.Template, len(raw))}
	for _, key := range requiredKeys {
		text, ok := raw[key]
		if !ok || strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("prompt %q is missing", key)
		}
		tmpl, err := template.New(key).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("prompt %q: %w", key, err)
		}
		s.templates[key] = tmpl
	}
	return s, nil
}

func (s *Store) render(key string, data any) (string, error) {
	tmpl, ok := s.templates[key]
	if !ok {
		return "", fmt.Errorf("prompt %q not found", key)
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", key, err)
	}
	return strings.TrimSpace(b.String()), nil
}

// GenerationMessages returns the opening conversation for a task. exemplar is
// an accepted solution shown as a few-shot example; empty omits it.
func (s *Store) GenerationMessages(t task.Task, exemplar string) ([]llm.Message, error) {
	sys, err := s.render(KeySystem, map[string]any{"Exemplar": exemplar})
	if err != nil {
		return nil, err
	}
	user, err := s.render(KeyGeneration, map[string]any{"Task": t.Description})
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.System(sys), llm.User(user)}, nil
}

// FeedbackMessages returns the turns appended after a rejected attempt: the
// rejected code as the assistant turn and the diagnostic as the next request.
func (s *Store) FeedbackMessages(code string, v verdict.Verdict) ([]llm.Message, error) {
	key := KeySemanticFeedback
	if v.Kind == verdict.RejectedSyntax {
		key = KeySyntaxFeedback
	}
	msg, err := s.render(key, map[string]any{"Diagnostic": strings.TrimSpace(v.Diagnostic)})
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.Assistant(code), llm.User(msg)}, nil
}

// BrainstormMessages asks for count task ideas about topic.
func (s *Store) BrainstormMessages(topic string, count int) ([]llm.Message, error) {
	msg, err := s.render(KeyBrainstorm, map[string]any{"Topic": topic, "Count": count})
	if err != nil {
		return nil, err
	}
	return []llm.Message{llm.User(msg)}, nil
}

// RenderEvolution implements task.Renderer.
func (s *Store) RenderEvolution(seed string, constraints []task.Constraint) (string, error) {
	return s.render(KeyEvolution, map[string]any{"Seed": seed, "Constraints": constraints})
}
