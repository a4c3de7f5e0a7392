package mapper

import (
	"fmt"
	"sort"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

// Method records how a candidate was found. Higher values are more trusted.
type Method int

const (
	MethodUnresolved Method = iota
	MethodHeuristic
	MethodProvides
	MethodAlias
)

var methodNames = [...]string{"unresolved", "heuristic", "provides", "alias"}

func (m Method) String() string {
	if m < 0 || int(m) >= len(methodNames) {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

func (m Method) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Method) UnmarshalText(b []byte) error {
	for i, n := range methodNames {
		if n == string(b) {
			*m = Method(i)
			return nil
		}
	}
	return fmt.Errorf("unknown match method %q", b)
}

// Match is a cached, constraint-free lookup result for one Debian name.
type Match struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
	Method     Method  `json:"method"`
	// Provided is the version attached to the matched provide, or the
	// package's own version for exact-name matches.
	Provided string `json:"provided,omitempty"`
	Virtual  bool   `json:"virtual,omitempty"`
}

// Candidate is an Arch package proposed for one relation entry, with the
// Debian version constraint translated to pacman's operators.
type Candidate struct {
	Name       string
	Confidence float64
	Method     Method
	Op         string
	Version    string
}

func (c Candidate) Dependency() archutils.Dependency {
	return archutils.Dependency{Name: c.Name, Op: c.Op, Version: c.Version}
}

func (c Candidate) String() string {
	return fmt.Sprintf("%s (%s, %.2f)", c.Dependency(), c.Method, c.Confidence)
}

// Resolution pairs a relation entry with its ranked candidates.
type Resolution struct {
	Entry      debutils.Entry
	Candidates []Candidate
	Warnings   []Warning
	// NotApplicable is set when every alternative is restricted to other
	// architectures.
	NotApplicable bool
}

// Best returns the top-ranked candidate.
func (r Resolution) Best() (Candidate, bool) {
	if len(r.Candidates) == 0 {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

func (r Resolution) Resolved() bool {
	return r.NotApplicable || len(r.Candidates) > 0
}

// ResolvedSet is the resolution of one relation field.
type ResolvedSet struct {
	Kind        debutils.RelationKind
	Resolutions []Resolution
}

func (s ResolvedSet) Warnings() []Warning {
	var out []Warning
	for _, r := range s.Resolutions {
		out = append(out, r.Warnings...)
	}
	return out
}

// Dependencies returns the best candidate of every resolved entry,
// keeping the first occurrence of each package name.
func (s ResolvedSet) Dependencies() []archutils.Dependency {
	seen := make(map[string]bool)
	var out []archutils.Dependency
	for _, r := range s.Resolutions {
		best, ok := r.Best()
		if !ok || seen[best.Name] {
			continue
		}
		seen[best.Name] = true
		out = append(out, best.Dependency())
	}
	return out
}

// Resolved holds the resolution of every mapped relation field of a package.
type Resolved map[debutils.RelationKind]ResolvedSet

// Warnings lists all warnings in relation-field order.
func (r Resolved) Warnings() []Warning {
	var out []Warning
	for _, kind := range debutils.RelationKinds {
		if set, ok := r[kind]; ok {
			out = append(out, set.Warnings()...)
		}
	}
	return out
}

// Unresolved returns the unresolved warnings of hard dependency fields.
func (r Resolved) Unresolved() []Warning {
	var out []Warning
	for _, w := range r.Warnings() {
		if w.Kind == WarnUnresolved && w.Hard() {
			out = append(out, w)
		}
	}
	return out
}

// sortMatches orders by method trust, then confidence, then name.
func sortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		if ms[i].Method != ms[j].Method {
			return ms[i].Method > ms[j].Method
		}
		if ms[i].Confidence != ms[j].Confidence {
			return ms[i].Confidence > ms[j].Confidence
		}
		return ms[i].Name < ms[j].Name
	})
}
