package archutils

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// Metadata members of a package, in the order they are written.
const (
	FileBuildInfo = ".BUILDINFO"
	FileMtree     = ".MTREE"
	FilePkgInfo   = ".PKGINFO"
	FileInstall   = ".INSTALL"
)

const PackageExt = ".pkg.tar.zst"

// ArtifactName is the canonical file name of a built package.
func ArtifactName(pkgname string, v PkgVersion, arch string) string {
	return fmt.Sprintf("%s-%s-%s%s", pkgname, v.String(), arch, PackageExt)
}

// Owner is the ownership recorded for a package member. The zero value
// means root:root.
type Owner struct {
	UID   int
	GID   int
	User  string
	Group string
}

// IsRoot reports whether o is root:root.
func (o Owner) IsRoot() bool {
	o = o.normalize()
	return o.UID == 0 && o.GID == 0 && o.User == "root" && o.Group == "root"
}

func (o Owner) String() string {
	o = o.normalize()
	return o.User + ":" + o.Group
}

func (o Owner) normalize() Owner {
	if o.User == "" {
		if o.UID == 0 {
			o.User = "root"
		} else {
			o.User = fmt.Sprint(o.UID)
		}
	}
	if o.Group == "" {
		if o.GID == 0 {
			o.Group = "root"
		} else {
			o.Group = fmt.Sprint(o.GID)
		}
	}
	return o
}

// PackageWriter streams a zstd-compressed package tarball. Every member is
// stamped with the same modification time; metadata members are owned by
// root.
type PackageWriter struct {
	zw    *zstd.Encoder
	tw    *tar.Writer
	mtime time.Time
}

// NewPackageWriter wraps w. level is a zstd level (1-22); 0 selects the default.
func NewPackageWriter(w io.Writer, level int, mtime time.Time) (*PackageWriter, error) {
	opts := []zstd.EOption{zstd.WithEncoderConcurrency(1)}
	if level > 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	zw, err := zstd.NewWriter(w, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	return &PackageWriter{zw: zw, tw: tar.NewWriter(zw), mtime: mtime.UTC().Truncate(time.Second)}, nil
}

func (p *PackageWriter) header(name string, typ byte, mode fs.FileMode, owner Owner, size int64) *tar.Header {
	owner = owner.normalize()
	return &tar.Header{
		Name:     name,
		Typeflag: typ,
		Mode:     int64(modeBits(mode)),
		Size:     size,
		Uid:      owner.UID,
		Gid:      owner.GID,
		Uname:    owner.User,
		Gname:    owner.Group,
		ModTime:  p.mtime,
		Format:   tar.FormatPAX,
	}
}

// AddFile copies size bytes from r into a regular file member.
func (p *PackageWriter) AddFile(name string, mode fs.FileMode, owner Owner, size int64, r io.Reader) error {
	if err := p.tw.WriteHeader(p.header(name, tar.TypeReg, mode, owner, size)); err != nil {
		return fmt.Errorf("failed to write header for %s: %w", name, err)
	}
	if _, err := io.CopyN(p.tw, r, size); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// AddBytes writes data as a root-owned regular file member.
func (p *PackageWriter) AddBytes(name string, mode fs.FileMode, data []byte) error {
	return p.AddFile(name, mode, Owner{}, int64(len(data)), bytes.NewReader(data))
}

func (p *PackageWriter) AddDir(name string, mode fs.FileMode, owner Owner) error {
	if !strings.HasSuffix(name, "/") {
		name += "/"
	}
	if err := p.tw.WriteHeader(p.header(name, tar.TypeDir, mode, owner, 0)); err != nil {
		return fmt.Errorf("failed to write directory %s: %w", name, err)
	}
	return nil
}

func (p *PackageWriter) AddSymlink(name, target string, owner Owner) error {
	h := p.header(name, tar.TypeSymlink, 0o777, owner, 0)
	h.Linkname = target
	if err := p.tw.WriteHeader(h); err != nil {
		return fmt.Errorf("failed to write symlink %s: %w", name, err)
	}
	return nil
}

// Close flushes the tar stream and the compressor. It does not close the
// underlying writer.
func (p *PackageWriter) Close() error {
	if err := p.tw.Close(); err != nil {
		p.zw.Close()
		return fmt.Errorf("failed to finish package tarball: %w", err)
	}
	if err := p.zw.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd stream: %w", err)
	}
	return nil
}

// PackageContents summarises a package read back by ReadPackage.
type PackageContents struct {
	PkgInfo *PkgInfo
	Mtree   []MtreeEntry
	Install []byte
	Members []string
	// Payload lists the non-metadata members.
	Payload []string
	// Owners holds the payload members not owned by root:root.
	Owners map[string]Owner
}

// ReadPackage decodes a .pkg.tar.zst stream and parses its metadata.
func ReadPackage(r io.Reader) (*PackageContents, error) {
	zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("failed to open zstd stream: %w", err)
	}
	defer zr.Close()

	pc := &PackageContents{}
	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read package tarball: %w", err)
		}
		name := path.Clean(strings.TrimPrefix(h.Name, "./"))
		if h.Typeflag == tar.TypeDir {
			name = strings.TrimSuffix(name, "/")
		}
		pc.Members = append(pc.Members, name)
		owner := Owner{UID: h.Uid, GID: h.Gid, User: h.Uname, Group: h.Gname}
		metadata := strings.HasPrefix(name, ".") && !strings.Contains(name, "/")
		if !owner.IsRoot() {
			if metadata {
				return nil, fmt.Errorf("metadata member %s is not owned by root", name)
			}
			if pc.Owners == nil {
				pc.Owners = make(map[string]Owner)
			}
			pc.Owners[name] = owner.normalize()
		}
		switch name {
		case FilePkgInfo:
			if pc.PkgInfo, err = ParsePkgInfo(tr); err != nil {
				return nil, err
			}
		case FileMtree:
			if pc.Mtree, err = ReadMtree(tr); err != nil {
				return nil, err
			}
		case FileInstall:
			if pc.Install, err = io.ReadAll(tr); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", FileInstall, err)
			}
		case FileBuildInfo:
		default:
			pc.Payload = append(pc.Payload, name)
		}
	}
	if pc.PkgInfo == nil {
		return nil, fmt.Errorf("package has no %s", FilePkgInfo)
	}
	return pc, nil
}
