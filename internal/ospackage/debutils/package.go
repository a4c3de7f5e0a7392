package debutils

import (
	"archive/tar"
	"io/fs"
	"path"
	"strings"
	"time"
)

// FileType classifies payload entries.
type FileType string

const (
	TypeRegular  FileType = "file"
	TypeDir      FileType = "dir"
	TypeSymlink  FileType = "link"
	TypeHardlink FileType = "hardlink"
	TypeOther    FileType = "other"
)

// FileEntry describes one payload entry. Path is absolute and cleaned.
// For hard links LinkTarget is the absolute path of the linked file.
type FileEntry struct {
	Path       string
	Type       FileType
	Mode       fs.FileMode
	UID        int
	GID        int
	Owner      string
	Group      string
	Size       int64
	LinkTarget string
	ModTime    time.Time
}

// SourcePackage is the parsed form of a .deb. It is not modified after Parse returns.
type SourcePackage struct {
	Name          string
	Version       Version
	Architecture  string
	Description   string
	Maintainer    string
	Homepage      string
	Section       string
	Priority      string
	Source        string
	License       string
	Essential     bool
	InstalledSize int64 // KiB, as declared

	Relations map[RelationKind]ConstraintSet
	Files     []FileEntry
	Scripts   map[ControlFile][]byte
	Conffiles []string
	Control   *Paragraph

	FormatVersion      string
	ControlMember      string
	DataMember         string
	ControlCompression Compression
	DataCompression    Compression
}

// Relation returns the parsed relation field of the given kind.
func (p *SourcePackage) Relation(kind RelationKind) ConstraintSet {
	if p.Relations == nil {
		return nil
	}
	return p.Relations[kind]
}

// Synopsis returns the first line of the description.
func (p *SourcePackage) Synopsis() string {
	first, _, _ := strings.Cut(p.Description, "\n")
	return strings.TrimSpace(first)
}

// LongDescription returns the extended description without the synopsis.
func (p *SourcePackage) LongDescription() string {
	_, rest, _ := strings.Cut(p.Description, "\n")
	return strings.TrimSpace(rest)
}

// PayloadSize sums the sizes of regular files in bytes.
func (p *SourcePackage) PayloadSize() int64 {
	var total int64
	for _, f := range p.Files {
		if f.Type == TypeRegular {
			total += f.Size
		}
	}
	return total
}

// HasScript reports whether the named maintainer script is present.
func (p *SourcePackage) HasScript(name ControlFile) bool {
	_, ok := p.Scripts[name]
	return ok
}

// normalizeMemberPath turns a tar name like "./usr/bin/foo" into "/usr/bin/foo".
// ok is false for names that escape the root.
func normalizeMemberPath(name string) (string, bool) {
	name = strings.TrimPrefix(name, ".")
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	for _, part := range strings.Split(name, "/") {
		if part == ".." {
			return "", false
		}
	}
	return path.Clean(name), true
}

func entryFromHeader(hdr *tar.Header) (FileEntry, bool) {
	p, ok := normalizeMemberPath(hdr.Name)
	if !ok {
		return FileEntry{}, false
	}
	e := FileEntry{
		Path:    p,
		Mode:    fs.FileMode(hdr.Mode).Perm(),
		UID:     hdr.Uid,
		GID:     hdr.Gid,
		Owner:   hdr.Uname,
		Group:   hdr.Gname,
		ModTime: hdr.ModTime,
	}
	if hdr.Mode&04000 != 0 {
		e.Mode |= fs.ModeSetuid
	}
	if hdr.Mode&02000 != 0 {
		e.Mode |= fs.ModeSetgid
	}
	if hdr.Mode&01000 != 0 {
		e.Mode |= fs.ModeSticky
	}
	switch hdr.Typeflag {
	case tar.TypeReg, tar.TypeRegA:
		e.Type = TypeRegular
		e.Size = hdr.Size
	case tar.TypeDir:
		e.Type = TypeDir
	case tar.TypeSymlink:
		e.Type = TypeSymlink
		e.LinkTarget = hdr.Linkname
	case tar.TypeLink:
		target, ok := normalizeMemberPath(hdr.Linkname)
		if !ok {
			return FileEntry{}, false
		}
		e.Type = TypeHardlink
		e.LinkTarget = target
	default:
		e.Type = TypeOther
	}
	return e, true
}
