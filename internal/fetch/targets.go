package fetch

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// targetsFile is the on-disk shape of the target registry.
type targetsFile struct {
	Targets []targetEntry `yaml:"targets"`
}

type targetEntry struct {
	Name    string `yaml:"name"`
	Enabled *bool  `yaml:"enabled"`
}

// LoadTargets reads the YAML target registry and returns the enabled target
// names in file order. A missing path (or empty string) yields the default
// target set; a present-but-invalid file is an error.
func LoadTargets(path string) ([]string, error) {
	if path == "" {
		return []string{TargetExampleVendor}, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return []string{TargetExampleVendor}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	var file targetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse targets file %s: %w", path, err)
	}

	var names []string
	for _, entry := range file.Targets {
		if entry.Name == "" {
			continue
		}
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		names = append(names, entry.Name)
	}
	if len(names) == 0 {
		return []string{TargetExampleVendor}, nil
	}
	return names, nil
}
