package mapper

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultTables []byte

// Alias maps one Debian name onto one Arch package.
type Alias struct {
	Debian     string  `yaml:"debian" json:"debian"`
	Arch       string  `yaml:"arch" json:"arch"`
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

func (a Alias) confidence() float64 {
	if a.Confidence <= 0 || a.Confidence > 1 {
		return 1.0
	}
	return a.Confidence
}

// Tables holds the curated alias and virtual-package tables.
type Tables struct {
	Aliases  []Alias             `yaml:"aliases" json:"aliases,omitempty"`
	Virtuals map[string][]string `yaml:"virtuals" json:"virtuals,omitempty"`
}

// DefaultTables returns the tables compiled into the binary.
func DefaultTables() (*Tables, error) {
	return ParseTables(defaultTables)
}

// ParseTables decodes a YAML table document.
func ParseTables(data []byte) (*Tables, error) {
	var t Tables
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse mapping tables: %w", err)
	}
	for i, a := range t.Aliases {
		if a.Debian == "" || a.Arch == "" {
			return nil, fmt.Errorf("alias %d: debian and arch names are required", i)
		}
		if a.Confidence < 0 || a.Confidence > 1 {
			return nil, fmt.Errorf("alias %s: confidence %v out of range", a.Debian, a.Confidence)
		}
	}
	for name, providers := range t.Virtuals {
		if len(providers) == 0 {
			return nil, fmt.Errorf("virtual %s: no providers", name)
		}
	}
	return &t, nil
}

// LoadTables reads an additional table file.
func LoadTables(path string) (*Tables, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping tables: %w", err)
	}
	return ParseTables(data)
}

// Merge returns t overlaid with o; entries of o win.
func (t *Tables) Merge(o *Tables) *Tables {
	out := &Tables{Virtuals: make(map[string][]string)}
	index := make(map[string]int)
	for _, src := range []*Tables{t, o} {
		if src == nil {
			continue
		}
		for _, a := range src.Aliases {
			key := Normalize(a.Debian)
			if i, ok := index[key]; ok {
				out.Aliases[i] = a
				continue
			}
			index[key] = len(out.Aliases)
			out.Aliases = append(out.Aliases, a)
		}
		for k, v := range src.Virtuals {
			out.Virtuals[Normalize(k)] = v
		}
	}
	return out
}
