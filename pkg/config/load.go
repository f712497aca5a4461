package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a Mesh configuration from a YAML file at path, starting from
// Defaults() so an omitted knob keeps its default rather than zeroing out.
func Load(path string) (Mesh, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Mesh{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Mesh{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Mesh{}, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}
