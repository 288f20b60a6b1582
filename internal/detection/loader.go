package detection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// tableFile is the on-disk layout of a rules file.
type tableFile struct {
	Rules            []Rule     `yaml:"rules"`
	VariantNamespace *Namespace `yaml:"variant_namespace"`
	UnknownNamespace *Namespace `yaml:"unknown_namespace"`
}

// LoadTable reads a YAML rules file. The table is built once; there is no
// reload.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseTable(data)
}

// ParseTable builds a table from YAML bytes.
func ParseTable(data []byte) (*Table, error) {
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file defines no rules")
	}
	return NewTable(f.Rules, f.VariantNamespace, f.UnknownNamespace)
}
