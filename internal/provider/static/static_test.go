package static

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/provider"
)

func TestStaticFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.yaml")
	doc := `packages:
  - name: zlib
    version: 1:1.3.1-2
    provides: [libz.so=1-64]
  - name: bash
    provides: [sh]
`
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	p, err := provider.New(provider.Config{Type: Name, File: path})
	if err != nil {
		t.Fatalf("provider.New: %v", err)
	}
	pkgs, err := p.Packages(context.Background())
	if err != nil {
		t.Fatalf("Packages: %v", err)
	}
	if len(pkgs) != 2 || pkgs[0].Name != "zlib" || pkgs[1].Provides[0] != "sh" {
		t.Errorf("pkgs = %+v", pkgs)
	}
}

func TestParseErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"unknown field": "packages:\n  - name: a\n    color: red\n",
		"missing name":  "packages:\n  - version: 1-1\n",
		"not yaml":      "packages: [",
	} {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestInMemory(t *testing.T) {
	s := New([]ospackage.PackageInfo{{Name: "glibc"}})
	pkgs, err := s.Packages(context.Background())
	if err != nil || len(pkgs) != 1 {
		t.Fatalf("Packages = %v, %v", pkgs, err)
	}
	if err := (&Static{}).Init(provider.Config{}); err == nil {
		t.Error("expected error without file")
	}
}
