// Package persona defines the chatbot characters the relay can speak as.
package persona

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Persona is the fixed voice of one deployment.
type Persona struct {
	Name      string   `yaml:"name"`
	Prompt    string   `yaml:"prompt"`
	Fallbacks []string `yaml:"fallbacks"`
}

// Validate checks that the persona can serve both operating modes.
func (p Persona) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("persona name is required")
	}
	if strings.TrimSpace(p.Prompt) == "" {
		return fmt.Errorf("persona %q: prompt is required", p.Name)
	}
	if len(p.Fallbacks) == 0 {
		return fmt.Errorf("persona %q: at least one fallback line is required", p.Name)
	}
	for i, line := range p.Fallbacks {
		if strings.TrimSpace(line) == "" {
			return fmt.Errorf("persona %q: fallback %d is empty", p.Name, i)
		}
	}
	return nil
}

// Fallback picks one canned line uniformly at random. A nil rng uses the
// global source.
func (p Persona) Fallback(rng *rand.Rand) string {
	if rng == nil {
		return p.Fallbacks[rand.IntN(len(p.Fallbacks))]
	}
	return p.Fallbacks[rng.IntN(len(p.Fallbacks))]
}

// Lookup returns a built-in persona by name.
func Lookup(name string) (Persona, error) {
	p, ok := builtin[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Persona{}, fmt.Errorf("unknown persona %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return p, nil
}

// Names lists the built-in personas.
func Names() []string {
	names := make([]string, 0, len(builtin))
	for name := range builtin {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFile reads a persona from a YAML file:
//
//	name: pirate
//	prompt: You are a pirate...
//	fallbacks:
//	  - arr
func LoadFile(path string) (Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("read persona file: %w", err)
	}
	var p Persona
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Persona{}, fmt.Errorf("parse persona file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Persona{}, err
	}
	return p, nil
}
