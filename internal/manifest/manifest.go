// Package manifest loads and decodes the per-source build manifest.
// Schema validation beyond basic decoding belongs to the build strategy,
// since each artifact kind carries its own manifest shape.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Filenames accepted as a build manifest, probed in order.
var Filenames = []string{"bundle.yaml", "bundle.yml"}

// Manifest is the decoded common core of a build manifest.
type Manifest struct {
	// Name identifies the unit of source.
	Name string `yaml:"name" json:"name"`

	// Entry is the default entry point, relative to the source directory.
	Entry string `yaml:"entry" json:"entry"`

	// Dependencies maps package name to version constraint.
	Dependencies map[string]string `yaml:"dependencies" json:"dependencies,omitempty"`

	// DevDependencies are installed but excluded from the bundle.
	DevDependencies map[string]string `yaml:"dev_dependencies" json:"dev_dependencies,omitempty"`

	// Raw carries kind-specific fields for strategy validation.
	Raw map[string]any `yaml:"-" json:"-"`
}

// Load reads the manifest file from dir and returns its raw bytes plus the
// path it was read from.
func Load(dir string) ([]byte, string, error) {
	for _, name := range Filenames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("read manifest %s: %w", path, err)
		}
	}
	return nil, "", fmt.Errorf("no manifest found in %s (tried %v)", dir, Filenames)
}

// Decode parses raw manifest bytes into the common core, preserving all
// fields in Raw for kind-specific validation.
func Decode(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	var all map[string]any
	if err := yaml.Unmarshal(raw, &all); err != nil {
		return nil, fmt.Errorf("decode manifest fields: %w", err)
	}
	m.Raw = all
	return &m, nil
}

// Field returns a kind-specific string field from the raw manifest.
func (m *Manifest) Field(key string) (string, bool) {
	v, ok := m.Raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// BoolField returns a kind-specific bool field from the raw manifest.
func (m *Manifest) BoolField(key string) (bool, bool) {
	v, ok := m.Raw[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
