package planner

import (
	"fmt"
	"strings"
)

type ErrorKind string

const (
	CollisionError ErrorKind = "collision"
	MetadataError  ErrorKind = "metadata"
)

// PlanError reports why a package cannot be planned.
type PlanError struct {
	Kind    ErrorKind
	Package string
	Paths   []string // colliding payload paths
	Err     error
}

func (e *PlanError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s error", e.Kind)
	if e.Package != "" {
		fmt.Fprintf(&b, " planning %s", e.Package)
	}
	if len(e.Paths) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Paths, ", "))
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *PlanError) Unwrap() error { return e.Err }
