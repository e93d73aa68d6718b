package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a registry extension file.
type File struct {
	Events        []Event  `toml:"events" yaml:"events"`
	ExternalTypes []string `toml:"external-types" yaml:"external-types"`
	Reserved      []string `toml:"reserved" yaml:"reserved"`
}

// LoadFile reads a TOML or YAML registry file (chosen by extension) and
// merges it into r.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("cannot read %s: %w", path, err)
	}

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &f); err != nil {
			return fmt.Errorf("parse error in %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported registry file %s: want .toml, .yaml or .yml", path)
	}

	return r.Apply(f)
}

// Apply merges the contents of f into r.
func (r *Registry) Apply(f File) error {
	for _, e := range f.Events {
		if err := r.AddEvent(e); err != nil {
			return err
		}
	}
	r.AddExternalType(f.ExternalTypes...)
	r.Reserve(f.Reserved...)
	return nil
}
