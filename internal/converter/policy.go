package converter

import (
	"fmt"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
)

// Policy decides what happens to unresolved dependencies.
type Policy string

const (
	// PolicyStrict fails a job with an unresolved hard dependency.
	PolicyStrict Policy = "strict"
	// PolicyPermissive attaches warnings and keeps going.
	PolicyPermissive Policy = "permissive"
	// PolicyDryRun plans without building.
	PolicyDryRun Policy = "dry_run"
)

func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ReplaceAll(strings.ToLower(s), "-", "_")); p {
	case PolicyStrict, PolicyPermissive, PolicyDryRun:
		return p, nil
	}
	return "", fmt.Errorf("unknown policy %q (want strict, permissive or dry_run)", s)
}

// UnresolvedError fails a job under PolicyStrict.
type UnresolvedError struct {
	Package  string
	Warnings []mapper.Warning
}

func (e *UnresolvedError) Error() string {
	names := make([]string, len(e.Warnings))
	for i, w := range e.Warnings {
		names[i] = w.Relation
	}
	return fmt.Sprintf("%s has %d unresolved dependencies: %s", e.Package, len(e.Warnings), strings.Join(names, ", "))
}

func (e *UnresolvedError) Unwrap() error { return mapper.ErrUnresolved }
