package archrepo

import (
	"archive/tar"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/open-edge-platform/deb2arch/internal/provider"
)

func buildDB(t *testing.T, compress string, descs map[string]string) []byte {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for dir, desc := range descs {
		if err := tw.WriteHeader(&tar.Header{Name: dir + "/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
			t.Fatal(err)
		}
		if err := tw.WriteHeader(&tar.Header{Name: dir + "/desc", Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(desc))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(desc)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	switch compress {
	case "gz":
		zw := gzip.NewWriter(&out)
		_, _ = zw.Write(tarBuf.Bytes())
		zw.Close()
	case "zst":
		zw, err := zstd.NewWriter(&out)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = zw.Write(tarBuf.Bytes())
		zw.Close()
	default:
		out = tarBuf
	}
	return out.Bytes()
}

const zlibDesc = `%FILENAME%
zlib-1:1.3.1-2-x86_64.pkg.tar.zst

%NAME%
zlib

%VERSION%
1:1.3.1-2

%DESC%
Compression library implementing the deflate compression method found in gzip and PKZIP

%ARCH%
x86_64

%PROVIDES%
libz.so=1-64

%DEPENDS%
glibc
`

func TestParseDatabase(t *testing.T) {
	for _, c := range []string{"gz", "zst", "none"} {
		t.Run(c, func(t *testing.T) {
			db := buildDB(t, c, map[string]string{"zlib-1:1.3.1-2": zlibDesc})
			pkgs, err := ParseDatabase(bytes.NewReader(db), "core")
			if err != nil {
				t.Fatalf("ParseDatabase: %v", err)
			}
			if len(pkgs) != 1 {
				t.Fatalf("got %d packages", len(pkgs))
			}
			p := pkgs[0]
			if p.Name != "zlib" || p.Version != "1:1.3.1-2" || p.Arch != "x86_64" || p.Repository != "core" {
				t.Errorf("unexpected package %+v", p)
			}
			if strings.Join(p.Provides, ",") != "libz.so=1-64" {
				t.Errorf("provides = %v", p.Provides)
			}
		})
	}
}

func TestParseDatabaseRejectsNamelessDesc(t *testing.T) {
	db := buildDB(t, "gz", map[string]string{"broken-1-1": "%VERSION%\n1-1\n"})
	if _, err := ParseDatabase(bytes.NewReader(db), "core"); err == nil {
		t.Error("expected error")
	}
}

func TestPackagesFromMirror(t *testing.T) {
	db := buildDB(t, "gz", map[string]string{"zlib-1:1.3.1-2": zlibDesc})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/core/os/x86_64/core.db" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(db)
	}))
	defer srv.Close()

	p, err := provider.New(provider.Config{Type: Name, Mirror: srv.URL + "/$repo/os/$arch", Repos: []string{"core"}})
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	pkgs, err := p.Packages(context.Background())
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].Name != "zlib" {
		t.Errorf("pkgs = %+v", pkgs)
	}

	p2, _ := provider.New(provider.Config{Type: Name, Mirror: srv.URL + "/$repo/os/$arch", Repos: []string{"extra"}})
	if _, err := p2.Packages(context.Background()); err == nil {
		t.Error("expected error for missing repository")
	}
}

func TestInitRejectsMirrorWithoutRepo(t *testing.T) {
	p := &ArchRepo{}
	if err := p.Init(provider.Config{Mirror: "https://example.org/os"}); err == nil {
		t.Error("expected error")
	}
	if err := p.Init(provider.Config{}); err != nil {
		t.Fatal(err)
	}
	if got := p.DatabaseURL("core"); got != "https://geo.mirror.pkgbuild.com/core/os/x86_64/core.db" {
		t.Errorf("DatabaseURL = %q", got)
	}
}
