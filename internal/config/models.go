package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Model is one entry of the model catalog.
type Model struct {
	ID        string `yaml:"id" validate:"required"`
	MaxTokens int    `yaml:"max_tokens" validate:"gt=0"`
	Default   bool   `yaml:"default"`
}

// Catalog lists the models clients may request.
type Catalog []Model

type catalogFile struct {
	Models []Model `yaml:"models" validate:"required,min=1,dive"`
}

// LoadCatalog reads a YAML model catalog.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read models file: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse models file: %w", err)
	}
	if err := validate.Struct(file); err != nil {
		return nil, fmt.Errorf("config: invalid models file: %w", err)
	}
	seen := make(map[string]bool, len(file.Models))
	defaults := 0
	for _, m := range file.Models {
		id := strings.ToLower(m.ID)
		if seen[id] {
			return nil, fmt.Errorf("config: duplicate model %q", m.ID)
		}
		seen[id] = true
		if m.Default {
			defaults++
		}
	}
	if defaults > 1 {
		return nil, fmt.Errorf("config: %d models marked default", defaults)
	}
	catalog := Catalog(file.Models)
	if defaults == 0 {
		catalog[0].Default = true
	}
	return catalog, nil
}

// Default returns the default model.
func (c Catalog) Default() (Model, bool) {
	for _, m := range c {
		if m.Default {
			return m, true
		}
	}
	if len(c) > 0 {
		return c[0], true
	}
	return Model{}, false
}

// Find looks a model up by id, case-insensitively.
func (c Catalog) Find(id string) (Model, bool) {
	for _, m := range c {
		if strings.EqualFold(m.ID, strings.TrimSpace(id)) {
			return m, true
		}
	}
	return Model{}, false
}

// Clamp caps maxTokens to the model's limit. Unknown models are left unchanged.
func (c Catalog) Clamp(model string, maxTokens int) int {
	m, ok := c.Find(model)
	if !ok || maxTokens <= m.MaxTokens {
		return maxTokens
	}
	return m.MaxTokens
}
