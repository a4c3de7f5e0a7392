package planner

import (
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

// TargetMetadata is the Arch-side description of the package being built.
type TargetMetadata struct {
	PkgName    string                 `validate:"required,archname"`
	PkgVer     string                 `validate:"required,archver"`
	PkgRel     string                 `validate:"required,numeric"`
	Epoch      int                    `validate:"gte=0"`
	Arch       string                 `validate:"required,archarch"`
	PkgDesc    string                 `validate:"max=1024"`
	URL        string                 `validate:"omitempty,url"`
	Packager   string                 `validate:"required"`
	License    []string               `validate:"dive,required"`
	Size       int64                  `validate:"gte=0"`
	Depends    []archutils.Dependency `validate:"dive"`
	OptDepends []archutils.Dependency `validate:"dive"`
	Conflicts  []archutils.Dependency `validate:"dive"`
	Provides   []archutils.Dependency `validate:"dive"`
	Replaces   []archutils.Dependency `validate:"dive"`
	Backup     []string               `validate:"dive,required,excludes=.."`
}

// Version returns the full [epoch:]pkgver-pkgrel version.
func (m TargetMetadata) Version() archutils.PkgVersion {
	return archutils.PkgVersion{Epoch: m.Epoch, PkgVer: m.PkgVer, PkgRel: m.PkgRel}
}

// PkgInfo renders the metadata as a .PKGINFO document.
func (m TargetMetadata) PkgInfo(buildDate time.Time) *archutils.PkgInfo {
	info := &archutils.PkgInfo{
		PkgName:   m.PkgName,
		PkgVer:    m.Version().String(),
		PkgDesc:   m.PkgDesc,
		URL:       m.URL,
		BuildDate: buildDate.Unix(),
		Packager:  m.Packager,
		Size:      m.Size,
		Arch:      m.Arch,
		License:   m.License,
		Backup:    m.Backup,
		XData:     []string{"pkgtype=pkg"},
	}
	render := func(deps []archutils.Dependency) []string {
		out := make([]string, len(deps))
		for i, d := range deps {
			out[i] = d.String()
		}
		return out
	}
	info.Depends = render(m.Depends)
	info.OptDepends = render(m.OptDepends)
	info.Conflicts = render(m.Conflicts)
	info.Provides = render(m.Provides)
	info.Replaces = render(m.Replaces)
	return info
}

// PlannedFile is one payload entry at its rebased location.
type PlannedFile struct {
	// Sources are the original payload paths; merged directories have several.
	Sources    []string
	Target     string
	Type       debutils.FileType
	Mode       fs.FileMode
	Owner      archutils.Owner
	Size       int64
	LinkTarget string
	ModTime    time.Time
}

// Hook is a command run inside the staging root before assembly.
type Hook struct {
	Name    string `yaml:"name" json:"name" validate:"required"`
	Command string `yaml:"command" json:"command" validate:"required"`
}

type NoteKind string

const (
	NoteSanitized   NoteKind = "sanitized"
	NoteSubstituted NoteKind = "substituted"
	NotePassthrough NoteKind = "passthrough"
	NoteSkipped     NoteKind = "skipped"
	NoteOwnership   NoteKind = "ownership"
)

// Note records a non-fatal decision taken while planning.
type Note struct {
	Kind    NoteKind
	Subject string
	Detail  string
}

func (n Note) String() string {
	return string(n.Kind) + ": " + n.Subject + ": " + n.Detail
}

// BuildPlan is everything the sandbox needs to produce one package.
type BuildPlan struct {
	Source *debutils.SourcePackage
	// Payload reopens the source archive for staging. It is attached by
	// the caller; planning never touches the archive.
	Payload debutils.Opener

	Target   TargetMetadata
	Files    []PlannedFile // sorted by Target
	Install  string        // .INSTALL content, empty when there are no scripts
	Hooks    []Hook
	Warnings []mapper.Warning
	Notes    []Note

	bySource map[string]int
}

// ArtifactName is the file name of the package the plan produces.
func (p *BuildPlan) ArtifactName() string {
	return archutils.ArtifactName(p.Target.PkgName, p.Target.Version(), p.Target.Arch)
}

// FileFor returns the planned entry for an original payload path.
func (p *BuildPlan) FileFor(source string) (PlannedFile, bool) {
	i, ok := p.bySource[source]
	if !ok {
		return PlannedFile{}, false
	}
	return p.Files[i], true
}

// FileAt returns the planned entry at a target path.
func (p *BuildPlan) FileAt(target string) (PlannedFile, bool) {
	i := sort.Search(len(p.Files), func(i int) bool { return p.Files[i].Target >= target })
	if i < len(p.Files) && p.Files[i].Target == target {
		return p.Files[i], true
	}
	return PlannedFile{}, false
}

// NotesOf filters the notes by kind.
func (p *BuildPlan) NotesOf(kind NoteKind) []Note {
	var out []Note
	for _, n := range p.Notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (p *BuildPlan) index() {
	p.bySource = make(map[string]int)
	for i, f := range p.Files {
		for _, s := range f.Sources {
			p.bySource[s] = i
		}
	}
}

// Summary is a one-line description for logs.
func (p *BuildPlan) Summary() string {
	s := fmt.Sprintf("%s: %d files", p.ArtifactName(), len(p.Files))
	if n := len(p.Warnings); n > 0 {
		s += fmt.Sprintf(", %d mapping warnings", n)
	}
	return s
}
