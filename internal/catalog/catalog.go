// Package catalog declares the supported generation models and the
// constraints a request must satisfy before it is submitted.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"palette/internal/domain"
)

//go:embed models.yaml
var embeddedModels []byte

// Family selects the provider payload shape a model is submitted with.
type Family string

const (
	FamilyNanoBanana Family = "nano-banana"
	FamilyGen4       Family = "gen4"
	FamilyQwen       Family = "qwen"
	FamilySeedance   Family = "seedance"
)

func (f Family) valid() bool {
	switch f {
	case FamilyNanoBanana, FamilyGen4, FamilyQwen, FamilySeedance:
		return true
	}
	return false
}

// Model is one catalog entry.
type Model struct {
	ID                          string                `yaml:"-"`
	Kind                        domain.GenerationKind `yaml:"kind"`
	Family                      Family                `yaml:"family"`
	Slug                        string                `yaml:"slug"`
	MaxReferenceImages          int                   `yaml:"max_reference_images"`
	ReferenceBlockedResolutions []string              `yaml:"reference_blocked_resolutions"`
	RequiresImageForLastFrame   bool                  `yaml:"requires_image_for_last_frame"`
	Resolutions                 []string              `yaml:"resolutions"`
	AspectRatios                []string              `yaml:"aspect_ratios"`
	OutputFormats               []string              `yaml:"output_formats"`
	Durations                   []int                 `yaml:"durations"`
	MaxPromptLength             int                   `yaml:"max_prompt_length"`
}

// DisplayName renders the model id for human-readable messages,
// e.g. "seedance-lite" becomes "Seedance Lite".
func (m Model) DisplayName() string {
	return cases.Title(language.English).String(strings.ReplaceAll(m.ID, "-", " "))
}

type catalogFile struct {
	Models map[string]Model `yaml:"models"`
}

// Catalog is an immutable set of models keyed by id.
type Catalog struct {
	models map[string]Model
}

// Load parses the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(embeddedModels)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(embeddedModels)
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a YAML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse yaml: %w", err)
	}
	if len(file.Models) == 0 {
		return nil, errors.New("catalog: no models declared")
	}
	models := make(map[string]Model, len(file.Models))
	for id, m := range file.Models {
		m.ID = id
		if !m.Kind.Valid() {
			return nil, fmt.Errorf("catalog: model %s has unknown kind %q", id, m.Kind)
		}
		if !m.Family.valid() {
			return nil, fmt.Errorf("catalog: model %s has unknown family %q", id, m.Family)
		}
		if strings.TrimSpace(m.Slug) == "" {
			return nil, fmt.Errorf("catalog: model %s has no slug", id)
		}
		models[id] = m
	}
	return &Catalog{models: models}, nil
}

// Lookup returns the model with the given id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	m, ok := c.models[strings.TrimSpace(id)]
	return m, ok
}

// Models returns every model sorted by id.
func (c *Catalog) Models() []Model {
	out := make([]Model, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
