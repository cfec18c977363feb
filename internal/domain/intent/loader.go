package intent

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the YAML layout of a templates file.
type File struct {
	// Replace drops the built-in presets instead of extending them.
	Replace   bool       `yaml:"replace"`
	Templates []Template `yaml:"templates"`
}

// LoadSet builds the template set from the presets and an optional YAML
// file. A missing file is not an error. Templates from the file replace
// presets of the same name and are otherwise appended after them.
func LoadSet(path string) (*Set, error) {
	templates := Presets()
	if path == "" {
		return NewSet(templates...)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewSet(templates...)
		}
		return nil, fmt.Errorf("read templates file %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse templates file %s: %w", path, err)
	}
	if f.Replace {
		templates = nil
	}

	set, err := NewSet(append(templates, f.Templates...)...)
	if err != nil {
		return nil, fmt.Errorf("templates file %s: %w", path, err)
	}
	return set, nil
}
