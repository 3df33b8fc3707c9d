// Package normalize maps provider tables onto canonical bond fields.
package normalize

import (
	_ "embed"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed mappings.yaml
var builtinMappings []byte

// Mapping describes how one provider dataset maps to canonical fields.
type Mapping struct {
	// Columns maps provider column names to canonical field names.
	Columns map[string]string `yaml:"columns"`
	// Require lists canonical fields that must be present as columns.
	Require []string `yaml:"require"`
	// VolumeLots enables the lots-to-shares heuristic on volume.
	VolumeLots bool `yaml:"volume_lots"`
	// StripPrefix lists code fields that may carry an sh/sz prefix.
	StripPrefix []string `yaml:"strip_prefix"`
}

// Table is the set of mappings keyed by "<source>.<dataset>".
type Table struct {
	mappings map[string]Mapping
}

// ParseTable decodes a YAML mapping document.
func ParseTable(data []byte) (*Table, error) {
	m := make(map[string]Mapping)
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "normalize: parse mapping table")
	}
	for key := range m {
		if !strings.Contains(key, ".") {
			return nil, eris.Errorf("normalize: mapping key %q must be <source>.<dataset>", key)
		}
	}
	return &Table{mappings: m}, nil
}

// DefaultTable returns the mapping table compiled into the binary.
func DefaultTable() *Table {
	t, err := ParseTable(builtinMappings)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the mapping for a provider dataset.
func (t *Table) Lookup(source, dataset string) (Mapping, bool) {
	m, ok := t.mappings[source+"."+dataset]
	return m, ok
}
