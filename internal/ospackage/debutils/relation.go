package debutils

import (
	"fmt"
	"strings"
)

// Operator is a Debian version relation operator.
type Operator string

const (
	OpLT Operator = "<<"
	OpLE Operator = "<="
	OpEQ Operator = "="
	OpGE Operator = ">="
	OpGT Operator = ">>"
)

// Constraint is a version restriction such as ">= 1.2".
type Constraint struct {
	Op      Operator
	Version string
	// Legacy is set when the deprecated "<" or ">" spelling was used.
	Legacy bool
}

func (c Constraint) String() string {
	return fmt.Sprintf("%s %s", c.Op, c.Version)
}

// Satisfied reports whether version v meets the constraint.
func (c Constraint) Satisfied(v string) (bool, error) {
	cmp, err := CompareVersions(v, c.Version)
	if err != nil {
		return false, err
	}
	switch c.Op {
	case OpLT:
		return cmp < 0, nil
	case OpLE:
		return cmp <= 0, nil
	case OpEQ:
		return cmp == 0, nil
	case OpGE:
		return cmp >= 0, nil
	case OpGT:
		return cmp > 0, nil
	}
	return false, fmt.Errorf("unknown operator %q", c.Op)
}

// Relation is one alternative of a relation entry:
// name[:archqual] [(op version)] [[arch list]] [<profiles>].
type Relation struct {
	Name          string
	ArchQualifier string
	Constraint    *Constraint
	Architectures []string
	Profiles      string
}

func (r Relation) String() string {
	var b strings.Builder
	b.WriteString(r.Name)
	if r.ArchQualifier != "" {
		b.WriteByte(':')
		b.WriteString(r.ArchQualifier)
	}
	if r.Constraint != nil {
		fmt.Fprintf(&b, " (%s)", r.Constraint)
	}
	if len(r.Architectures) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(r.Architectures, " "))
	}
	return b.String()
}

// AppliesTo evaluates the architecture restriction list for a Debian
// architecture name. An empty list applies everywhere.
func (r Relation) AppliesTo(arch string) bool {
	if len(r.Architectures) == 0 || arch == "" || arch == "all" {
		return true
	}
	negated := strings.HasPrefix(r.Architectures[0], "!")
	for _, a := range r.Architectures {
		name := strings.TrimPrefix(a, "!")
		if name == arch || name == "any" || name == "linux-any" || name == "linux-"+arch {
			return !negated
		}
	}
	return negated
}

// Entry is a disjunction: any one alternative satisfies it.
type Entry struct {
	Alternatives []Relation
}

func (e Entry) String() string {
	parts := make([]string, len(e.Alternatives))
	for i, alt := range e.Alternatives {
		parts[i] = alt.String()
	}
	return strings.Join(parts, " | ")
}

// ConstraintSet is a conjunction of entries, the parsed form of a relation field.
type ConstraintSet []Entry

func (c ConstraintSet) String() string {
	parts := make([]string, len(c))
	for i, e := range c {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

// ParseRelations parses a full relation field such as
// "libc6 (>= 2.34), default-jre | java-runtime".
func ParseRelations(field string) (ConstraintSet, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return nil, nil
	}
	var set ConstraintSet
	for _, raw := range strings.Split(field, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var entry Entry
		for _, alt := range strings.Split(raw, "|") {
			rel, err := ParseRelation(alt)
			if err != nil {
				return nil, err
			}
			entry.Alternatives = append(entry.Alternatives, rel)
		}
		set = append(set, entry)
	}
	return set, nil
}

// ParseRelation parses a single alternative.
func ParseRelation(s string) (Relation, error) {
	var rel Relation
	s = strings.TrimSpace(s)
	if s == "" {
		return rel, fmt.Errorf("empty relation")
	}

	end := strings.IndexAny(s, " \t\n([<")
	name := s
	rest := ""
	if end >= 0 {
		name, rest = s[:end], strings.TrimSpace(s[end:])
	}
	if n, q, ok := strings.Cut(name, ":"); ok && !strings.HasPrefix(name, "${") {
		name, rel.ArchQualifier = n, q
	}
	if name == "" || !validPackageName(name) {
		return rel, fmt.Errorf("invalid package name in relation %q", s)
	}
	rel.Name = name

	for rest != "" {
		switch rest[0] {
		case '(':
			closeIdx := strings.IndexByte(rest, ')')
			if closeIdx < 0 || rel.Constraint != nil {
				return rel, fmt.Errorf("malformed version constraint in relation %q", s)
			}
			c, err := parseConstraint(rest[1:closeIdx])
			if err != nil {
				return rel, fmt.Errorf("relation %q: %w", s, err)
			}
			rel.Constraint = c
			rest = strings.TrimSpace(rest[closeIdx+1:])
		case '[':
			closeIdx := strings.IndexByte(rest, ']')
			if closeIdx < 0 {
				return rel, fmt.Errorf("malformed architecture list in relation %q", s)
			}
			rel.Architectures = strings.Fields(rest[1:closeIdx])
			rest = strings.TrimSpace(rest[closeIdx+1:])
		case '<':
			closeIdx := strings.IndexByte(rest, '>')
			if closeIdx < 0 {
				return rel, fmt.Errorf("malformed build profile in relation %q", s)
			}
			rel.Profiles = strings.TrimSpace(rel.Profiles + " " + rest[:closeIdx+1])
			rest = strings.TrimSpace(rest[closeIdx+1:])
		default:
			return rel, fmt.Errorf("unexpected %q in relation %q", rest, s)
		}
	}
	return rel, nil
}

func parseConstraint(s string) (*Constraint, error) {
	s = strings.TrimSpace(s)
	ops := []struct {
		tok    string
		op     Operator
		legacy bool
	}{
		{"<<", OpLT, false},
		{"<=", OpLE, false},
		{">=", OpGE, false},
		{">>", OpGT, false},
		{"=", OpEQ, false},
		{"<", OpLE, true},
		{">", OpGE, true},
	}
	for _, o := range ops {
		if strings.HasPrefix(s, o.tok) {
			ver := strings.TrimSpace(s[len(o.tok):])
			if ver == "" {
				return nil, fmt.Errorf("missing version after %q", o.tok)
			}
			return &Constraint{Op: o.op, Version: ver, Legacy: o.legacy}, nil
		}
	}
	return nil, fmt.Errorf("missing operator in constraint %q", s)
}

// validPackageName accepts Debian package names plus substitution
// variables, which are kept so later stages can flag them.
func validPackageName(name string) bool {
	if strings.HasPrefix(name, "${") && strings.HasSuffix(name, "}") {
		return true
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isAlnum(rune(c)) || c == '+' || c == '-' || c == '.' {
			continue
		}
		return false
	}
	return true
}
