package analyzer

import (
	"context"
	"io/fs"
	"strings"
	"testing"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/provider/static"
)

func source(t *testing.T, depends string) *debutils.SourcePackage {
	t.Helper()
	set, err := debutils.ParseRelations(depends)
	if err != nil {
		t.Fatal(err)
	}
	return &debutils.SourcePackage{
		Name:         "demo",
		Version:      debutils.MustParseVersion("1.0-1"),
		Architecture: "amd64",
		Relations:    map[debutils.RelationKind]debutils.ConstraintSet{debutils.Depends: set},
		Scripts: map[debutils.ControlFile][]byte{
			debutils.FilePostinst: []byte("#!/bin/sh\nadduser --system demo\nupdate-rc.d demo defaults\n. /usr/share/debconf/confmodule\ndb_get demo/q\n"),
		},
		Files: []debutils.FileEntry{
			{Path: "/usr", Type: debutils.TypeDir},
			{Path: "/usr/bin/demo", Type: debutils.TypeRegular, Mode: 0755 | fs.ModeSetuid},
			{Path: "/usr/lib/x86_64-linux-gnu/libdemo.so.1", Type: debutils.TypeRegular, Mode: 0644},
			{Path: "/opt/demo/lib/libbundled.so", Type: debutils.TypeRegular, Mode: 0644},
			{Path: "/weird/file", Type: debutils.TypeRegular, Mode: 0666},
			{Path: "/usr/share/doc/demo/debian/changelog", Type: debutils.TypeRegular, Mode: 0644},
		},
	}
}

func TestAnalyzeFiles(t *testing.T) {
	r := Analyze(source(t, "libc6"), nil)

	tests := []struct {
		category Category
		subject  string
	}{
		{CategoryFHS, "/weird/file"},
		{CategoryLibrary, "/opt/demo/lib/libbundled.so"},
		{CategoryDebianPath, "/usr/share/doc/demo/debian/changelog"},
		{CategorySecurity, "/usr/bin/demo"},
		{CategorySecurity, "/weird/file"},
	}
	for _, tt := range tests {
		t.Run(string(tt.category)+tt.subject, func(t *testing.T) {
			found := false
			for _, f := range r.ByCategory(tt.category) {
				if f.Subject == tt.subject {
					found = true
				}
			}
			if !found {
				t.Errorf("no %s finding for %s in %v", tt.category, tt.subject, r.Findings)
			}
		})
	}
	for _, f := range r.ByCategory(CategoryLibrary) {
		if strings.HasPrefix(f.Subject, "/usr/lib/") {
			t.Errorf("library under /usr/lib flagged: %v", f)
		}
	}
}

func TestAnalyzeScripts(t *testing.T) {
	r := Analyze(source(t, ""), nil)
	scripts := r.ByCategory(CategoryScript)
	// adduser, update-rc.d and one debconf message
	if len(scripts) != 3 {
		t.Errorf("script findings = %v", scripts)
	}
}

func TestAnalyzeDependencies(t *testing.T) {
	tables, err := mapper.DefaultTables()
	if err != nil {
		t.Fatal(err)
	}
	m, err := mapper.New(tables, mapper.Options{})
	if err != nil {
		t.Fatal(err)
	}
	pool := []ospackage.PackageInfo{{Name: "glibc"}, {Name: "jre-openjdk"}, {Name: "jdk-openjdk"}}
	if err := m.Refresh(context.Background(), static.New(pool)); err != nil {
		t.Fatal(err)
	}
	src := source(t, "libc6, debconf (>= 0.5) | debconf-2.0, qqqqqq-zzzz, jre-openjdk, jdk-openjdk")
	resolved, err := m.ResolvePackage(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}

	r := Analyze(src, resolved)
	if r.DependencyCount != 5 {
		t.Errorf("dependency count = %d", r.DependencyCount)
	}
	if r.MappedCount != 4 || len(r.Unmapped) != 1 || r.Unmapped[0] != "qqqqqq-zzzz" {
		t.Errorf("mapped = %d, unmapped = %v", r.MappedCount, r.Unmapped)
	}
	if r.Count(SeverityError) != 1 {
		t.Errorf("errors = %d: %v", r.Count(SeverityError), r.Findings)
	}
	if r.Findings[0].Severity != SeverityError {
		t.Error("findings must be ordered by severity")
	}

	var problematic, java bool
	for _, f := range r.ByCategory(CategoryDependency) {
		problematic = problematic || f.Subject == "debconf"
		java = java || f.Subject == "java"
	}
	if !problematic || !java {
		t.Errorf("problematic=%v java=%v: %v", problematic, java, r.Findings)
	}
	if lines := r.Lines(); len(lines) < 3 || !strings.HasPrefix(lines[0], "demo 1.0-1") {
		t.Errorf("lines = %v", lines)
	}
}
