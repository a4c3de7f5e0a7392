package archutils

import (
	"fmt"
	"strings"
)

// Dependency is a pacman relation such as "glibc>=2.34" or, for
// optional dependencies, "bash-completion: recommended".
type Dependency struct {
	Name        string
	Op          string
	Version     string
	Description string
}

func (d Dependency) String() string {
	s := d.Name
	if d.Op != "" && d.Version != "" {
		s += d.Op + d.Version
	}
	if d.Description != "" {
		s += ": " + d.Description
	}
	return s
}

// Unconstrained reports whether the dependency carries no version.
func (d Dependency) Unconstrained() bool {
	return d.Op == "" || d.Version == ""
}

var depOps = []string{">=", "<=", "=", ">", "<"}

// ParseDependency parses the rendering produced by String.
func ParseDependency(s string) (Dependency, error) {
	var d Dependency
	s = strings.TrimSpace(s)
	if head, desc, ok := strings.Cut(s, ": "); ok {
		s, d.Description = head, strings.TrimSpace(desc)
	}
	for _, op := range depOps {
		if i := strings.Index(s, op); i > 0 {
			d.Name, d.Op, d.Version = s[:i], op, s[i+len(op):]
			break
		}
	}
	if d.Name == "" {
		d.Name = s
	}
	if !ValidName(d.Name) {
		return Dependency{}, fmt.Errorf("invalid dependency %q", s)
	}
	if d.Op != "" && d.Version == "" {
		return Dependency{}, fmt.Errorf("dependency %q has an operator but no version", s)
	}
	return d, nil
}
