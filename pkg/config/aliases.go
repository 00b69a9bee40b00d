package config

import (
	"fmt"
	"slices"
	"sort"
)

// ModelAliases maps short names onto image model IDs and lists the models
// each adapter can serve.
type ModelAliases struct {
	Aliases   map[string]string   `yaml:"aliases"`
	Providers map[string][]string `yaml:"providers"`
}

// DefaultAliases returns the built-in image model table.
func DefaultAliases() *ModelAliases {
	return &ModelAliases{
		Aliases: map[string]string{
			"nano-banana": "gemini-2.5-flash-image-preview",
			"gemini":      "gemini-2.5-flash-image-preview",
			"gemini-ga":   "gemini-2.5-flash-image",
			"gpt-image":   "gpt-image-1",
		},
		Providers: map[string][]string{
			"google": {"gemini-2.5-flash-image-preview", "gemini-2.5-flash-image"},
			"openai": {"gpt-image-1"},
			"mock":   {"mock-1"},
		},
	}
}

// Resolve returns the model an alias points at, or name itself.
func (a *ModelAliases) Resolve(name string) string {
	if a == nil {
		return name
	}
	if model, ok := a.Aliases[name]; ok {
		return model
	}
	return name
}

// ProviderOf returns the adapter whose model list contains the resolved
// model, or "" when none does.
func (a *ModelAliases) ProviderOf(name string) string {
	if a == nil {
		return ""
	}
	model := a.Resolve(name)
	providers := make([]string, 0, len(a.Providers))
	for p := range a.Providers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		if slices.Contains(a.Providers[p], model) {
			return p
		}
	}
	return ""
}

// ValidateModel reports whether adapter lists model. Aliases are resolved
// first. A table without providers accepts anything.
func (a *ModelAliases) ValidateModel(adapter, model string) error {
	if a == nil || len(a.Providers) == 0 {
		return nil
	}
	models, ok := a.Providers[adapter]
	if !ok {
		return fmt.Errorf("unknown adapter %q", adapter)
	}
	if resolved := a.Resolve(model); !slices.Contains(models, resolved) {
		return fmt.Errorf("model %q not in %s provider list", resolved, adapter)
	}
	return nil
}

// ListAliases returns alias names sorted.
func (a *ModelAliases) ListAliases() []string {
	if a == nil {
		return nil
	}
	names := make([]string, 0, len(a.Aliases))
	for name := range a.Aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// merge overlays the file's table; entries in other win.
func (a *ModelAliases) merge(other *ModelAliases) {
	if other == nil {
		return
	}
	for k, v := range other.Aliases {
		a.Aliases[k] = v
	}
	for k, v := range other.Providers {
		a.Providers[k] = v
	}
}
