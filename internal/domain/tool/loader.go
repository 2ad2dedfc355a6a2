package tool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type definitionFile struct {
	Tools []Definition `yaml:"tools"`
}

// LoadFromFile reads tool definitions from a YAML file. The file holds
// either a single definition or a top-level "tools" list.
func LoadFromFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool file %s: %w", path, err)
	}

	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tool file %s: %w", path, err)
	}
	defs := f.Tools
	if len(defs) == 0 {
		var d Definition
		if err := yaml.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("parse tool file %s: %w", path, err)
		}
		defs = []Definition{d}
	}

	for i := range defs {
		defs[i].ApplyDefaults()
		if err := defs[i].Validate(); err != nil {
			return nil, fmt.Errorf("validate tool file %s: %w", path, err)
		}
	}
	return defs, nil
}

// LoadFromDirectory reads every .yaml/.yml file in dir. A missing directory
// yields no definitions.
func LoadFromDirectory(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read tool directory %s: %w", dir, err)
	}

	var defs []Definition
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		loaded, err := LoadFromFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		for i := range loaded {
			if prev, dup := seen[loaded[i].Name]; dup {
				return nil, fmt.Errorf("tool %q defined in both %s and %s", loaded[i].Name, prev, entry.Name())
			}
			seen[loaded[i].Name] = entry.Name()
		}
		defs = append(defs, loaded...)
	}
	return defs, nil
}
