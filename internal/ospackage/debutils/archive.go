package debutils

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/blakesmith/ar"

	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

const (
	arMagic = "!<arch>\n"

	// maxControlFileSize bounds each file read from the control tarball.
	maxControlFileSize = 16 << 20
)

// Opener returns a fresh reader over the same .deb each time it is called.
type Opener func() (io.ReadCloser, error)

// FileOpener opens the archive at path.
func FileOpener(path string) Opener {
	return func() (io.ReadCloser, error) {
		return os.Open(path)
	}
}

// BytesOpener serves an in-memory archive.
func BytesOpener(data []byte) Opener {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

// ParseFile parses the .deb at path.
func ParseFile(path string) (*SourcePackage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ParseContext(context.Background(), bufio.NewReaderSize(f, 256*1024))
}

// Parse reads a .deb from r. On error it returns nil and an *ArchiveError.
func Parse(r io.Reader) (*SourcePackage, error) {
	return ParseContext(context.Background(), r)
}

// ParseContext is Parse with cancellation checked between payload entries.
func ParseContext(ctx context.Context, r io.Reader) (*SourcePackage, error) {
	pkg := &SourcePackage{
		Relations: make(map[RelationKind]ConstraintSet),
		Scripts:   make(map[ControlFile][]byte),
	}
	err := walkMembers(ctx, r, func(name string, member io.Reader) error {
		switch {
		case name == MemberDebianBinary:
			v, err := readFormatVersion(member)
			if err != nil {
				return err
			}
			pkg.FormatVersion = v
			return nil
		case strings.HasPrefix(name, memberControlBase):
			c, err := compressionFor(name, memberControlBase)
			if err != nil {
				return err
			}
			pkg.ControlMember, pkg.ControlCompression = name, c
			return readControlMember(c, member, pkg)
		default:
			c, err := compressionFor(name, memberDataBase)
			if err != nil {
				return err
			}
			pkg.DataMember, pkg.DataCompression = name, c
			return readPayloadManifest(ctx, c, member, pkg)
		}
	})
	if err != nil {
		return nil, err
	}
	logger.Logger().Debugf("parsed %s %s (%s): %d payload entries, control=%s data=%s",
		pkg.Name, pkg.Version, pkg.Architecture, len(pkg.Files), pkg.ControlMember, pkg.DataMember)
	return pkg, nil
}

// WalkPayload streams the payload of the .deb in r, calling fn for every
// entry with the entry body (empty for non-regular files). The control
// member is skipped without being parsed.
func WalkPayload(ctx context.Context, r io.Reader, fn func(entry FileEntry, body io.Reader) error) error {
	return walkMembers(ctx, r, func(name string, member io.Reader) error {
		if !strings.HasPrefix(name, memberDataBase) {
			return nil
		}
		c, err := compressionFor(name, memberDataBase)
		if err != nil {
			return err
		}
		return walkTar(ctx, c, member, func(hdr *tar.Header, tr io.Reader) error {
			entry, ok := entryFromHeader(hdr)
			if !ok {
				return fmt.Errorf("unsafe path %q in payload", hdr.Name)
			}
			if entry.Path == "/" {
				return nil
			}
			return fn(entry, tr)
		})
	})
}

// countingReader tracks how many bytes of a member were consumed.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// walkMembers validates the container layout and hands the three required
// members to fn in order. Errors are returned as *ArchiveError.
func walkMembers(ctx context.Context, r io.Reader, fn func(name string, member io.Reader) error) error {
	magic := make([]byte, len(arMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return archiveErr("", fmt.Errorf("%w: %v", ErrBadMagic, err))
	}
	if string(magic) != arMagic {
		return archiveErr("", ErrBadMagic)
	}

	arR := ar.NewReader(io.MultiReader(bytes.NewReader(magic), r))
	expect := []string{MemberDebianBinary, memberControlBase, memberDataBase}
	stage := 0
	last := ""
	for stage < len(expect) {
		if err := ctx.Err(); err != nil {
			return err
		}
		header, err := arR.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return archiveErr(last, fmt.Errorf("reading ar header: %w", normalizeEOF(err)))
		}

		name := strings.TrimSuffix(strings.TrimSpace(header.Name), "/")
		last = name
		if header.Size < 0 {
			return archiveErr(name, fmt.Errorf("%w: negative member size", ErrTruncated))
		}
		if stage > 0 && strings.HasPrefix(name, "_") {
			continue
		}
		if !strings.HasPrefix(name, expect[stage]) ||
			(stage == 0 && name != MemberDebianBinary) {
			return archiveErr(name, fmt.Errorf("%w: expected %s, found %s", ErrMemberOrder, expect[stage], name))
		}

		cr := &countingReader{r: arR}
		if err := fn(name, cr); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return archiveErr(name, normalizeEOF(err))
		}
		if _, err := io.Copy(io.Discard, cr); err != nil {
			return archiveErr(name, normalizeEOF(err))
		}
		if cr.n != header.Size {
			return archiveErr(name, fmt.Errorf("%w: read %d of %d bytes", ErrTruncated, cr.n, header.Size))
		}
		stage++
	}
	if stage < len(expect) {
		return archiveErr(expect[stage], ErrMissingMember)
	}
	return nil
}

func readFormatVersion(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, 64))
	if err != nil {
		return "", err
	}
	v := strings.TrimSpace(string(data))
	major, _, _ := strings.Cut(v, ".")
	if major != SupportedFormatMajor {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, v)
	}
	return v, nil
}

func walkTar(ctx context.Context, c Compression, r io.Reader, fn func(hdr *tar.Header, body io.Reader) error) error {
	dr, err := decompressor(c, r)
	if err != nil {
		return err
	}
	defer dr.Close()

	tr := tar.NewReader(dr)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tar header: %w", normalizeEOF(err))
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

func readControlMember(c Compression, r io.Reader, pkg *SourcePackage) error {
	var control []byte
	err := walkTar(context.Background(), c, r, func(hdr *tar.Header, body io.Reader) error {
		if hdr.Typeflag != tar.TypeReg && hdr.Typeflag != tar.TypeRegA {
			return nil
		}
		if hdr.Size > maxControlFileSize {
			return fmt.Errorf("%s: control file too large (%d bytes)", hdr.Name, hdr.Size)
		}
		name := ControlFile(strings.TrimPrefix(strings.TrimPrefix(hdr.Name, "./"), "/"))
		content, err := io.ReadAll(body)
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, normalizeEOF(err))
		}
		switch name {
		case FileControl:
			control = content
		case FileConffiles:
			for _, line := range strings.Split(string(content), "\n") {
				line = strings.TrimSpace(line)
				// "remove-on-upgrade /etc/foo" style flags precede the path
				if fields := strings.Fields(line); len(fields) > 0 {
					pkg.Conffiles = append(pkg.Conffiles, fields[len(fields)-1])
				}
			}
		case FilePreinst, FilePostinst, FilePrerm, FilePostrm, FileConfig:
			pkg.Scripts[name] = content
		}
		return nil
	})
	if err != nil {
		return err
	}
	if control == nil {
		return fmt.Errorf("%w: no control file", ErrMissingMember)
	}
	return populateFromControl(control, pkg)
}

func populateFromControl(data []byte, pkg *SourcePackage) error {
	para, err := ParseControl(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("control: %w", err)
	}
	pkg.Control = para

	pkg.Name = para.Value(FieldPackage)
	rawVersion := para.Value(FieldVersion)
	if pkg.Name == "" || rawVersion == "" {
		return fmt.Errorf("%w: control is missing Package or Version", ErrMalformedControl)
	}
	v, err := ParseVersion(rawVersion)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}
	pkg.Version = v
	pkg.Architecture = para.Value(FieldArchitecture)
	pkg.Description = para.Value(FieldDescription)
	pkg.Maintainer = para.Value(FieldMaintainer)
	pkg.Homepage = para.Value(FieldHomepage)
	pkg.Section = para.Value(FieldSection)
	pkg.Priority = para.Value(FieldPriority)
	pkg.Source = para.Value(FieldSource)
	pkg.License = para.Value(FieldLicense)
	pkg.Essential = para.Value(FieldEssential) == "yes"
	if s := para.Value(FieldInstalledSize); s != "" {
		size, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid Installed-Size %q", ErrMalformedControl, s)
		}
		pkg.InstalledSize = size
	}

	for _, kind := range RelationKinds {
		raw, ok := para.Get(string(kind))
		if !ok {
			continue
		}
		set, err := ParseRelations(raw)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrMalformedControl, kind, err)
		}
		pkg.Relations[kind] = set
	}
	return nil
}

func readPayloadManifest(ctx context.Context, c Compression, r io.Reader, pkg *SourcePackage) error {
	return walkTar(ctx, c, r, func(hdr *tar.Header, _ io.Reader) error {
		entry, ok := entryFromHeader(hdr)
		if !ok {
			return fmt.Errorf("unsafe path %q in payload", hdr.Name)
		}
		if entry.Path == "/" {
			return nil
		}
		pkg.Files = append(pkg.Files, entry)
		return nil
	})
}
