package pipeline

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadManifest reads a step registry from a YAML file.
func LoadManifest(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var registry Registry
	if err := yaml.Unmarshal(data, &registry); err != nil {
		return nil, fmt.Errorf("parse step manifest %s: %w", path, err)
	}

	return &registry, nil
}

// LoadRegistry returns the manifest at path, or the built-in registry when
// path is empty. The result is validated.
func LoadRegistry(path string) (*Registry, error) {
	registry := DefaultRegistry()
	if path != "" {
		loaded, err := LoadManifest(path)
		if err != nil {
			return nil, err
		}
		registry = loaded
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// Validate checks the registry for errors.
func (r *Registry) Validate() error {
	if r == nil {
		return fmt.Errorf("registry is required")
	}
	return ValidateSteps(r.Steps)
}

// ValidateSteps checks an ordered step list.
func ValidateSteps(steps []StepDefinition) error {
	if len(steps) == 0 {
		return fmt.Errorf("registry must define at least one step")
	}

	seen := make(map[int]struct{})
	stems := map[string]string{Slug(OriginalTitle): OriginalTitle}
	for _, step := range steps {
		if step.ID <= 0 {
			return fmt.Errorf("step %q must have a positive id", step.Title)
		}
		if strings.TrimSpace(step.Title) == "" {
			return fmt.Errorf("step %d: title is required", step.ID)
		}
		if strings.TrimSpace(step.Prompt) == "" {
			return fmt.Errorf("step %s must have a prompt", step.Title)
		}
		if _, ok := seen[step.ID]; ok {
			return fmt.Errorf("duplicate step id: %d", step.ID)
		}
		seen[step.ID] = struct{}{}

		stem := Slug(step.Title)
		if other, ok := stems[stem]; ok {
			return fmt.Errorf("step %q: file name %q collides with %q", step.Title, stem, other)
		}
		stems[stem] = step.Title
	}

	return nil
}
