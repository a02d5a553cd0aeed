package congress

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is one fixed evaluation viewpoint in the congress. Personas are
// immutable after process start; the engine treats all three uniformly and
// only their templated prompt text differs.
type Persona struct {
	Name        string   `yaml:"name" json:"name"`
	Title       string   `yaml:"title" json:"title"`
	Likes       []string `yaml:"likes" json:"likes"`
	Dislikes    []string `yaml:"dislikes" json:"dislikes"`
	Disposition string   `yaml:"disposition" json:"disposition"`
	Model       string   `yaml:"model" json:"model"`
}

// PersonaCount is the fixed congress size. Odd by construction, so a
// majority always exists and ties are impossible.
const PersonaCount = 3

// DefaultPersonas returns the three built-in congress members.
func DefaultPersonas(defaultModel string) []Persona {
	return []Persona{
		{
			Name:        "Cassius",
			Title:       "The Rational",
			Likes:       []string{"correctness", "test coverage", "determinism", "explicit error handling", "minimal diffs"},
			Dislikes:    []string{"speculation", "hidden state", "untested cleverness"},
			Disposition: "skeptical",
			Model:       defaultModel,
		},
		{
			Name:        "Aurora",
			Title:       "The Visionary",
			Likes:       []string{"bold simplification", "forward-looking design", "removing dead weight", "clear abstractions"},
			Dislikes:    []string{"stagnation", "patchwork fixes", "fear-driven caution"},
			Disposition: "optimistic",
			Model:       defaultModel,
		},
		{
			Name:        "Mercy",
			Title:       "The Compassionate",
			Likes:       []string{"readability", "maintainer empathy", "backwards compatibility", "documentation"},
			Dislikes:    []string{"needless churn", "breaking changes", "obfuscation"},
			Disposition: "protective",
			Model:       defaultModel,
		},
	}
}

// LoadPersonaFile reads a YAML persona override file. The file must define
// exactly three personas; members without a model get defaultModel.
func LoadPersonaFile(path, defaultModel string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}

	var doc struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse persona file: %w", err)
	}

	if len(doc.Personas) != PersonaCount {
		return nil, fmt.Errorf("persona file must define exactly %d personas, found %d", PersonaCount, len(doc.Personas))
	}
	for i := range doc.Personas {
		if doc.Personas[i].Name == "" {
			return nil, fmt.Errorf("persona %d has no name", i+1)
		}
		if doc.Personas[i].Model == "" {
			doc.Personas[i].Model = defaultModel
		}
	}
	return doc.Personas, nil
}

// PromptBlock renders the persona's identity and values as the instruction
// block prefixed to every evaluation issued on its behalf.
func (p Persona) PromptBlock() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, %s, a member of a three-seat review congress for AI-generated code changes.\n", p.Name, p.Title)
	fmt.Fprintf(&sb, "Your disposition is %s.\n", p.Disposition)
	fmt.Fprintf(&sb, "You value: %s.\n", strings.Join(p.Likes, ", "))
	fmt.Fprintf(&sb, "You reject: %s.\n", strings.Join(p.Dislikes, ", "))
	sb.WriteString("Judge the action under review strictly on its own merits. You do not know how other members vote, and past outcomes are withheld from you.")
	return sb.String()
}
