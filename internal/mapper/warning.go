package mapper

import (
	"errors"
	"fmt"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

type WarningKind string

const (
	WarnUnresolved        WarningKind = "unresolved"
	WarnLowConfidence     WarningKind = "low_confidence"
	WarnConstraintDropped WarningKind = "constraint_dropped"
)

var (
	ErrUnresolved        = errors.New("unresolved dependency")
	ErrLowConfidence     = errors.New("low-confidence dependency mapping")
	ErrConstraintDropped = errors.New("version constraint dropped")
)

// Warning is a non-fatal mapping problem attached to a job's result.
type Warning struct {
	Kind       WarningKind
	Field      debutils.RelationKind
	Relation   string // the Debian relation entry as written
	Candidate  string // chosen Arch package, if any
	Confidence float64
	Detail     string
}

func (w Warning) String() string {
	s := fmt.Sprintf("%s: %s %q", w.Kind, w.Field, w.Relation)
	if w.Candidate != "" {
		s += fmt.Sprintf(" -> %s (%.2f)", w.Candidate, w.Confidence)
	}
	if w.Detail != "" {
		s += ": " + w.Detail
	}
	return s
}

func (w Warning) Error() string { return w.String() }

func (w Warning) Unwrap() error {
	switch w.Kind {
	case WarnUnresolved:
		return ErrUnresolved
	case WarnLowConfidence:
		return ErrLowConfidence
	case WarnConstraintDropped:
		return ErrConstraintDropped
	}
	return nil
}

// Hard reports whether the warning concerns a field pacman must satisfy
// before installing.
func (w Warning) Hard() bool {
	return w.Field == debutils.Depends || w.Field == debutils.PreDepends
}
