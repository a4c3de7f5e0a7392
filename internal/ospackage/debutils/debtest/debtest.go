// Package debtest builds small .deb archives in memory for tests.
package debtest

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Epoch is the fixed modification time used for every generated entry.
var Epoch = time.Unix(1700000000, 0)

// File is one payload entry. Type defaults to a regular file, or to a
// directory when Path ends in "/".
type File struct {
	Path     string
	Body     string
	Mode     int64
	Type     byte
	Linkname string
	Uid      int
	Gid      int
	Uname    string
	Gname    string
}

// Deb describes the archive to build.
type Deb struct {
	// Control is the control file content. Use Control() for a default.
	Control   string
	Scripts   map[string]string
	Conffiles []string
	Files     []File

	// Compression of the control and data members: "gz" (default), "xz",
	// "zst" or "none".
	ControlCompression string
	DataCompression    string

	// FormatVersion defaults to "2.0\n".
	FormatVersion string

	// MemberOrder overrides the member order, by base names
	// ("debian-binary", "control", "data"). Missing names are omitted.
	MemberOrder []string
	// ExtraMembers are appended after the payload.
	ExtraMembers map[string]string
}

// Control renders a minimal control stanza followed by extra lines.
func Control(name, version, arch string, extra ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\nVersion: %s\nArchitecture: %s\n", name, version, arch)
	b.WriteString("Maintainer: Test Maintainer <test@example.org>\n")
	for _, line := range extra {
		b.WriteString(line)
		if !strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	if !strings.Contains(b.String(), "\nDescription:") {
		b.WriteString("Description: test package\n long description line\n")
	}
	return b.String()
}

// Build returns the archive bytes or fails the test.
func Build(t testing.TB, d Deb) []byte {
	t.Helper()
	data, err := d.Bytes()
	if err != nil {
		t.Fatalf("building test deb: %v", err)
	}
	return data
}

// Bytes renders the archive.
func (d Deb) Bytes() ([]byte, error) {
	if d.Control == "" {
		d.Control = Control("testpkg", "1.0-1", "amd64")
	}
	if d.FormatVersion == "" {
		d.FormatVersion = "2.0\n"
	}
	cc := defaultString(d.ControlCompression, "gz")
	dc := defaultString(d.DataCompression, "gz")

	controlFiles := []File{{Path: "./", Type: tar.TypeDir, Mode: 0755}, {Path: "./control", Body: d.Control, Mode: 0644}}
	for _, name := range []string{"preinst", "postinst", "prerm", "postrm", "config"} {
		if body, ok := d.Scripts[name]; ok {
			controlFiles = append(controlFiles, File{Path: "./" + name, Body: body, Mode: 0755})
		}
	}
	if len(d.Conffiles) > 0 {
		controlFiles = append(controlFiles, File{Path: "./conffiles", Body: strings.Join(d.Conffiles, "\n") + "\n", Mode: 0644})
	}

	controlTar, err := tarball(controlFiles, cc)
	if err != nil {
		return nil, fmt.Errorf("control tarball: %w", err)
	}
	dataTar, err := tarball(append([]File{{Path: "./", Type: tar.TypeDir, Mode: 0755}}, d.Files...), dc)
	if err != nil {
		return nil, fmt.Errorf("data tarball: %w", err)
	}

	members := map[string][2]string{
		"debian-binary": {"debian-binary", d.FormatVersion},
		"control":       {memberName("control.tar", cc), string(controlTar)},
		"data":          {memberName("data.tar", dc), string(dataTar)},
	}
	order := d.MemberOrder
	if order == nil {
		order = []string{"debian-binary", "control", "data"}
	}

	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	if err := w.WriteGlobalHeader(); err != nil {
		return nil, err
	}
	for _, key := range order {
		m, ok := members[key]
		if !ok {
			return nil, fmt.Errorf("unknown member %q", key)
		}
		if err := addBufferToAr(w, m[0], []byte(m[1])); err != nil {
			return nil, err
		}
	}
	for name, body := range d.ExtraMembers {
		if err := addBufferToAr(w, name, []byte(body)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func addBufferToAr(w *ar.Writer, name string, body []byte) error {
	header := &ar.Header{
		Name:    name,
		Size:    int64(len(body)),
		Mode:    0644,
		ModTime: Epoch,
	}
	if err := w.WriteHeader(header); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func memberName(base, compression string) string {
	switch compression {
	case "none":
		return base
	default:
		return base + "." + compression
	}
}

func defaultString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func tarball(files []File, compression string) ([]byte, error) {
	var raw bytes.Buffer
	tw := tar.NewWriter(&raw)
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.Path,
			Mode:     f.Mode,
			ModTime:  Epoch,
			Typeflag: f.Type,
			Linkname: f.Linkname,
			Uid:      f.Uid,
			Gid:      f.Gid,
			Uname:    defaultString(f.Uname, "root"),
			Gname:    defaultString(f.Gname, "root"),
			Format:   tar.FormatGNU,
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
			if strings.HasSuffix(f.Path, "/") {
				hdr.Typeflag = tar.TypeDir
			}
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0644
			if hdr.Typeflag == tar.TypeDir {
				hdr.Mode = 0755
			}
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(f.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return nil, err
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := io.WriteString(tw, f.Body); err != nil {
				return nil, err
			}
		}
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return compress(raw.Bytes(), compression)
}

func compress(data []byte, compression string) ([]byte, error) {
	var out bytes.Buffer
	switch compression {
	case "none":
		return data, nil
	case "gz":
		zw := gzip.NewWriter(&out)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case "xz":
		zw, err := xz.NewWriter(&out)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	case "zst":
		zw, err := zstd.NewWriter(&out)
		if err != nil {
			return nil, err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported test compression %q", compression)
	}
	return out.Bytes(), nil
}
