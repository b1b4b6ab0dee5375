package rbac

import (
	"embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed catalog/*.yaml
var catalogFS embed.FS

// RoleTemplate describes one global role seeded with a null tenant.
type RoleTemplate struct {
	Identifier  string `yaml:"identifier"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Level       int    `yaml:"level"`
}

// ReconcilePlan is the declared permission set for one role identifier.
type ReconcilePlan struct {
	Identifier string       `yaml:"identifier"`
	Required   []Capability `yaml:"required"`
	Forbidden  []Capability `yaml:"forbidden"`
}

type catalogData struct {
	templates []RoleTemplate
	presets   map[string]ReconcilePlan
}

// The catalog is parsed once at package init and never mutated afterwards.
var catalog = mustLoadCatalog()

func mustLoadCatalog() catalogData {
	c, err := loadCatalog()
	if err != nil {
		panic(fmt.Sprintf("rbac: invalid embedded catalog: %v", err))
	}
	return c
}

func loadCatalog() (catalogData, error) {
	var roles struct {
		Roles []RoleTemplate `yaml:"roles"`
	}
	raw, err := catalogFS.ReadFile("catalog/global_roles.yaml")
	if err != nil {
		return catalogData{}, err
	}
	if err := yaml.Unmarshal(raw, &roles); err != nil {
		return catalogData{}, fmt.Errorf("global_roles.yaml: %w", err)
	}

	seen := make(map[string]bool, len(roles.Roles))
	for _, t := range roles.Roles {
		if t.Identifier == "" || t.Level < 1 {
			return catalogData{}, fmt.Errorf("global_roles.yaml: bad template %q", t.Identifier)
		}
		if seen[t.Identifier] {
			return catalogData{}, fmt.Errorf("global_roles.yaml: duplicate identifier %q", t.Identifier)
		}
		seen[t.Identifier] = true
	}

	var presets struct {
		Presets map[string]ReconcilePlan `yaml:"presets"`
	}
	raw, err = catalogFS.ReadFile("catalog/reconcile_presets.yaml")
	if err != nil {
		return catalogData{}, err
	}
	if err := yaml.Unmarshal(raw, &presets); err != nil {
		return catalogData{}, fmt.Errorf("reconcile_presets.yaml: %w", err)
	}
	for name, p := range presets.Presets {
		if err := p.Validate(); err != nil {
			return catalogData{}, fmt.Errorf("reconcile_presets.yaml: preset %s: %w", name, err)
		}
	}

	return catalogData{templates: roles.Roles, presets: presets.Presets}, nil
}

// GlobalTemplates returns a copy of the global role vocabulary.
func GlobalTemplates() []RoleTemplate {
	out := make([]RoleTemplate, len(catalog.templates))
	copy(out, catalog.templates)
	return out
}

// ReconcilePreset returns a copy of the named preset plan.
func ReconcilePreset(name string) (ReconcilePlan, bool) {
	p, ok := catalog.presets[name]
	if !ok {
		return ReconcilePlan{}, false
	}
	return ReconcilePlan{
		Identifier: p.Identifier,
		Required:   append([]Capability(nil), p.Required...),
		Forbidden:  append([]Capability(nil), p.Forbidden...),
	}, true
}

// ReconcilePresetNames lists preset names in sorted order.
func ReconcilePresetNames() []string {
	names := make([]string, 0, len(catalog.presets))
	for name := range catalog.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
