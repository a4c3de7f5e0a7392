// Package planner turns a parsed Debian package and its resolved
// dependencies into a BuildPlan for the sandbox. Planning is pure: it
// reads no files and runs no processes.
package planner

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

const DefaultPackager = "Unknown Packager"

// Options configure a Planner.
type Options struct {
	// PathRules replace DefaultPathRules when non-empty.
	PathRules []PathRule
	Hooks     []Hook
	// Packager is recorded in .PKGINFO. When empty the Debian maintainer
	// is credited.
	Packager string
}

// Planner builds BuildPlans. It is safe for concurrent use.
type Planner struct {
	rw       rewriter
	hooks    []Hook
	packager string
}

func New(opts Options) (*Planner, error) {
	rules := opts.PathRules
	if len(rules) == 0 {
		rules = DefaultPathRules()
	}
	rw, err := newRewriter(rules)
	if err != nil {
		return nil, err
	}
	for _, h := range opts.Hooks {
		if err := validate.Struct(h); err != nil {
			return nil, fmt.Errorf("invalid hook %q: %w", h.Name, err)
		}
	}
	return &Planner{rw: rw, hooks: opts.Hooks, packager: opts.Packager}, nil
}

// Rewrite returns the location of a payload path in the Arch package.
func (p *Planner) Rewrite(debPath string) string {
	return p.rw.rewrite(path.Clean("/" + debPath))
}

// Plan derives the BuildPlan for src. resolved may be nil when the
// package has no relations to map.
func (p *Planner) Plan(src *debutils.SourcePackage, resolved mapper.Resolved) (*BuildPlan, error) {
	log := logger.Logger()
	if src == nil || src.Name == "" {
		return nil, &PlanError{Kind: MetadataError, Err: fmt.Errorf("package has no name")}
	}

	plan := &BuildPlan{Source: src, Hooks: append([]Hook(nil), p.hooks...)}
	if resolved != nil {
		plan.Warnings = resolved.Warnings()
	}

	files, notes, err := p.rw.planFiles(src.Files)
	if err != nil {
		var pe *PlanError
		if errors.As(err, &pe) {
			pe.Package = src.Name
		}
		return nil, err
	}
	plan.Files = files
	plan.Notes = append(plan.Notes, notes...)
	plan.index()

	target, notes, err := p.metadata(src, resolved, plan)
	if err != nil {
		return nil, err
	}
	plan.Target = target
	plan.Notes = append(plan.Notes, notes...)

	install, notes, err := translateScripts(src)
	if err != nil {
		return nil, &PlanError{Kind: MetadataError, Package: src.Name, Err: err}
	}
	plan.Install = install
	plan.Notes = append(plan.Notes, notes...)

	if err := validateMetadata(&plan.Target); err != nil {
		return nil, &PlanError{Kind: MetadataError, Package: src.Name, Err: err}
	}
	log.Debugf("Planned %s", plan.Summary())
	return plan, nil
}

func (p *Planner) metadata(src *debutils.SourcePackage, resolved mapper.Resolved, plan *BuildPlan) (TargetMetadata, []Note, error) {
	var notes []Note
	fail := func(err error) (TargetMetadata, []Note, error) {
		return TargetMetadata{}, nil, &PlanError{Kind: MetadataError, Package: src.Name, Err: err}
	}

	name, changed, err := archutils.SanitizeName(src.Name)
	if err != nil {
		return fail(err)
	}
	if changed {
		// a name that needed sanitising is never a valid Arch name, so it
		// cannot be kept as a provide either
		notes = append(notes, Note{Kind: NoteSanitized, Subject: "pkgname", Detail: fmt.Sprintf("%q -> %q; the original name is not provided", src.Name, name)})
	}
	arch, err := archutils.MapArchitecture(src.Architecture)
	if err != nil {
		return fail(err)
	}
	ver := archutils.NormalizeVersion(src.Version)

	m := TargetMetadata{
		PkgName:  name,
		PkgVer:   ver.PkgVer,
		PkgRel:   ver.PkgRel,
		Epoch:    ver.Epoch,
		Arch:     arch,
		PkgDesc:  src.Synopsis(),
		URL:      src.Homepage,
		Packager: p.packagerFor(src),
		License:  []string{"custom"},
		Size:     src.InstalledSize * 1024,
	}
	if src.License != "" {
		m.License = strings.Fields(strings.ReplaceAll(src.License, ",", " "))
	}
	if m.Size <= 0 {
		m.Size = src.PayloadSize()
	}

	seen := map[string]bool{name: true}
	m.Depends = appendDeps(nil, seen, resolved[debutils.PreDepends].Dependencies(), "")
	m.Depends = appendDeps(m.Depends, seen, resolved[debutils.Depends].Dependencies(), "")
	m.OptDepends = appendDeps(nil, seen, unconstrained(resolved[debutils.Recommends].Dependencies()), "recommended")
	m.OptDepends = appendDeps(m.OptDepends, seen, unconstrained(resolved[debutils.Suggests].Dependencies()), "suggested")

	self := map[string]bool{name: true}
	m.Conflicts = appendDeps(nil, self, resolved[debutils.Conflicts].Dependencies(), "")
	m.Conflicts = appendDeps(m.Conflicts, self, resolved[debutils.Breaks].Dependencies(), "")
	m.Replaces = appendDeps(nil, map[string]bool{name: true}, resolved[debutils.Replaces].Dependencies(), "")

	provides, pnotes := provides(src, name)
	m.Provides = provides
	notes = append(notes, pnotes...)

	for _, cf := range src.Conffiles {
		target := p.rw.rewrite(path.Clean(cf))
		if !strings.HasPrefix(target, "/etc/") {
			continue
		}
		if f, ok := plan.FileAt(target); !ok || f.Type != debutils.TypeRegular {
			continue
		}
		m.Backup = append(m.Backup, strings.TrimPrefix(target, "/"))
	}
	return m, notes, nil
}

func (p *Planner) packagerFor(src *debutils.SourcePackage) string {
	switch {
	case p.packager != "":
		return p.packager
	case src.Maintainer != "":
		return fmt.Sprintf("%s (converted by %s)", src.Maintainer, archutils.Generator)
	}
	return DefaultPackager
}

// provides translates the Provides field.
func provides(src *debutils.SourcePackage, name string) ([]archutils.Dependency, []Note) {
	var (
		out   []archutils.Dependency
		notes []Note
		seen  = map[string]bool{name: true}
	)
	for _, entry := range src.Relation(debutils.Provides) {
		for _, alt := range entry.Alternatives {
			if strings.HasPrefix(alt.Name, "${") {
				continue
			}
			pn, changed, err := archutils.SanitizeName(alt.Name)
			if err != nil || seen[pn] {
				continue
			}
			seen[pn] = true
			if changed {
				notes = append(notes, Note{Kind: NoteSanitized, Subject: "provides", Detail: fmt.Sprintf("%q -> %q", alt.Name, pn)})
			}
			d := archutils.Dependency{Name: pn}
			if c := alt.Constraint; c != nil && c.Op == debutils.OpEQ {
				if v, err := archutils.ConstraintVersion(c.Version); err == nil {
					d.Op, d.Version = "=", v
				}
			}
			out = append(out, d)
		}
	}
	return out, notes
}

func appendDeps(dst []archutils.Dependency, seen map[string]bool, deps []archutils.Dependency, desc string) []archutils.Dependency {
	for _, d := range deps {
		if seen[d.Name] {
			continue
		}
		seen[d.Name] = true
		d.Description = desc
		dst = append(dst, d)
	}
	return dst
}

func unconstrained(deps []archutils.Dependency) []archutils.Dependency {
	for i := range deps {
		deps[i].Op, deps[i].Version = "", ""
	}
	return deps
}
