package planner

import (
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

// PathRule moves everything under From to To.
type PathRule struct {
	From string `yaml:"from" json:"from" validate:"required,startswith=/"`
	To   string `yaml:"to" json:"to" validate:"required,startswith=/"`
}

var multiarchTriplets = []string{
	"x86_64-linux-gnu", "i386-linux-gnu", "aarch64-linux-gnu",
	"arm-linux-gnueabihf", "arm-linux-gnueabi", "riscv64-linux-gnu", "powerpc64le-linux-gnu",
}

// DefaultPathRules collapse Debian's multi-arch library directories and
// apply Arch's merged /usr layout.
func DefaultPathRules() []PathRule {
	var rules []PathRule
	for _, t := range multiarchTriplets {
		rules = append(rules,
			PathRule{From: "/lib/" + t, To: "/usr/lib"},
			PathRule{From: "/usr/lib/" + t, To: "/usr/lib"},
			PathRule{From: "/usr/include/" + t, To: "/usr/include"},
		)
	}
	return append(rules,
		PathRule{From: "/bin", To: "/usr/bin"},
		PathRule{From: "/sbin", To: "/usr/bin"},
		PathRule{From: "/usr/sbin", To: "/usr/bin"},
		PathRule{From: "/lib", To: "/usr/lib"},
		PathRule{From: "/lib64", To: "/usr/lib"},
		PathRule{From: "/usr/lib64", To: "/usr/lib"},
	)
}

type rewriter []PathRule

func newRewriter(rules []PathRule) (rewriter, error) {
	out := make(rewriter, 0, len(rules))
	seen := make(map[string]bool)
	for _, r := range rules {
		from, to := path.Clean(r.From), path.Clean(r.To)
		if !path.IsAbs(from) || !path.IsAbs(to) || from == "/" {
			return nil, fmt.Errorf("invalid path rule %s -> %s", r.From, r.To)
		}
		if seen[from] {
			return nil, fmt.Errorf("duplicate path rule for %s", from)
		}
		seen[from] = true
		out = append(out, PathRule{From: from, To: to})
	}
	// longest prefix first
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].From) > len(out[j].From) })
	return out, nil
}

// rewrite maps an absolute, clean path through the first matching rule.
func (rw rewriter) rewrite(p string) string {
	for _, r := range rw {
		if p == r.From {
			return r.To
		}
		if strings.HasPrefix(p, r.From+"/") {
			return r.To + p[len(r.From):]
		}
	}
	return p
}

// linkTarget rewrites a symlink target. Absolute targets go through the
// table; relative ones are recomputed when either end moved.
func (rw rewriter) linkTarget(src, dst, target string) string {
	if path.IsAbs(target) {
		return rw.rewrite(path.Clean(target))
	}
	abs := path.Join(path.Dir(src), target)
	moved := rw.rewrite(abs)
	if moved == abs && path.Dir(dst) == path.Dir(src) {
		return target
	}
	rel, err := filepath.Rel(path.Dir(dst), moved)
	if err != nil {
		return moved
	}
	return filepath.ToSlash(rel)
}

// planFiles rebases the payload manifest. Directories landing on the same
// target merge; any other shared target is a collision.
func (rw rewriter) planFiles(files []debutils.FileEntry) ([]PlannedFile, []Note, error) {
	var (
		notes  []Note
		out    []PlannedFile
		byDest = make(map[string]int)
	)
	for _, f := range files {
		if f.Path == "/" {
			continue
		}
		if f.Type == debutils.TypeOther {
			notes = append(notes, Note{Kind: NoteSkipped, Subject: f.Path, Detail: "special files are not packaged"})
			continue
		}
		dst := rw.rewrite(f.Path)
		pf := PlannedFile{
			Sources: []string{f.Path},
			Target:  dst,
			Type:    f.Type,
			Mode:    f.Mode,
			Owner:   archutils.Owner{UID: f.UID, GID: f.GID, User: f.Owner, Group: f.Group},
			Size:    f.Size,
			ModTime: f.ModTime,
		}
		switch f.Type {
		case debutils.TypeSymlink:
			pf.LinkTarget = rw.linkTarget(f.Path, dst, f.LinkTarget)
		case debutils.TypeHardlink:
			pf.LinkTarget = rw.rewrite(f.LinkTarget)
		}

		if i, ok := byDest[dst]; ok {
			prev := &out[i]
			if prev.Type == debutils.TypeDir && f.Type == debutils.TypeDir {
				prev.Sources = append(prev.Sources, f.Path)
				continue
			}
			return nil, nil, &PlanError{
				Kind:  CollisionError,
				Paths: append(append([]string{}, prev.Sources...), f.Path),
				Err:   fmt.Errorf("%s is provided more than once", dst),
			}
		}
		if !pf.Owner.IsRoot() {
			notes = append(notes, Note{Kind: NoteOwnership, Subject: dst, Detail: "owned by " + pf.Owner.String()})
		}
		byDest[dst] = len(out)
		out = append(out, pf)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out, notes, nil
}
