package archutils

import (
	"bytes"
	"io/fs"
	"strings"
	"testing"
	"time"
)

func TestPkgInfoRoundTrip(t *testing.T) {
	in := &PkgInfo{
		PkgName:    "hello",
		PkgVer:     "1:2.10-3",
		PkgDesc:    "example package",
		URL:        "https://example.org",
		BuildDate:  1700000000,
		Packager:   "Unknown Packager",
		Size:       4096,
		Arch:       "x86_64",
		License:    []string{"GPL-3.0-or-later"},
		Depends:    []string{"glibc>=2.34", "zlib"},
		OptDepends: []string{"bash-completion: recommended"},
		Backup:     []string{"etc/hello.conf"},
		XData:      []string{"pkgtype=pkg"},
	}
	out, err := ParsePkgInfo(bytes.NewReader(in.Bytes()))
	if err != nil {
		t.Fatalf("ParsePkgInfo: %v", err)
	}
	if out.PkgBase != "hello" {
		t.Errorf("pkgbase = %q, want hello", out.PkgBase)
	}
	out.PkgBase = ""
	if got, want := string(out.Bytes()), string(in.Bytes()); got != want {
		t.Errorf("round trip mismatch:\n%s\nwant:\n%s", got, want)
	}
	if !strings.Contains(string(in.Bytes()), "depend = glibc>=2.34\n") {
		t.Errorf("missing depend line:\n%s", in.Bytes())
	}
}

func TestParsePkgInfoErrors(t *testing.T) {
	for name, body := range map[string]string{
		"missing fields": "pkgname = a\n",
		"bad line":       "pkgname a\n",
		"bad size":       "pkgname = a\npkgver = 1-1\narch = any\nsize = lots\n",
	} {
		if _, err := ParsePkgInfo(strings.NewReader(body)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestMtreeRoundTrip(t *testing.T) {
	entries := []MtreeEntry{
		{Path: ".PKGINFO", Type: "file", Mode: 0o644, Size: 10, Time: 5, SHA256: "ab"},
		{Path: "usr", Type: "dir", Mode: 0o755, Time: 5},
		{Path: "usr/bin/su", Type: "file", Mode: 0o755 | fs.ModeSetuid, Size: 3, Time: 5, SHA256: "cd"},
		{Path: "usr/share/a b", Type: "file", Mode: 0o600, Size: 1, Time: 5, SHA256: "ef"},
		{Path: "usr/lib/libx.so", Type: "link", Mode: 0o777, Time: 5, Link: "libx.so.1"},
		{Path: "var/games/score", Type: "file", Mode: 0o664 | fs.ModeSetgid, GID: 60, Size: 1, Time: 5, SHA256: "01"},
	}
	var buf bytes.Buffer
	if err := WriteMtree(&buf, entries); err != nil {
		t.Fatalf("WriteMtree: %v", err)
	}
	got, err := ReadMtree(&buf)
	if err != nil {
		t.Fatalf("ReadMtree: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i := range entries {
		if got[i] != entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], entries[i])
		}
	}
}

func TestPackageWriterAndReader(t *testing.T) {
	info := &PkgInfo{PkgName: "hello", PkgVer: "1.0-1", Arch: "any", Size: 5}
	var mtree bytes.Buffer
	if err := WriteMtree(&mtree, []MtreeEntry{{Path: "usr", Type: "dir", Mode: 0o755}}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	pw, err := NewPackageWriter(&out, 3, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	steps := []func() error{
		func() error { return pw.AddBytes(FileBuildInfo, 0o644, (&BuildInfo{PkgName: "hello"}).Bytes()) },
		func() error { return pw.AddBytes(FileMtree, 0o644, mtree.Bytes()) },
		func() error { return pw.AddBytes(FilePkgInfo, 0o644, info.Bytes()) },
		func() error { return pw.AddBytes(FileInstall, 0o644, []byte("post_install() {\n  :\n}\n")) },
		func() error { return pw.AddDir("usr", 0o755, Owner{}) },
		func() error { return pw.AddBytes("usr/hello", 0o755, []byte("hello")) },
		func() error { return pw.AddSymlink("usr/hi", "hello", Owner{}) },
		pw.Close,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	pc, err := ReadPackage(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ReadPackage: %v", err)
	}
	wantMembers := []string{FileBuildInfo, FileMtree, FilePkgInfo, FileInstall, "usr", "usr/hello", "usr/hi"}
	if strings.Join(pc.Members, ",") != strings.Join(wantMembers, ",") {
		t.Errorf("members = %v, want %v", pc.Members, wantMembers)
	}
	if pc.PkgInfo.PkgName != "hello" || len(pc.Mtree) != 1 || len(pc.Payload) != 3 {
		t.Errorf("unexpected contents: %+v", pc)
	}
	if !strings.Contains(string(pc.Install), "post_install") {
		t.Errorf("install = %q", pc.Install)
	}
}

func TestPackageKeepsPayloadOwnership(t *testing.T) {
	info := &PkgInfo{PkgName: "scores", PkgVer: "1.0-1", Arch: "any", Size: 1}
	games := Owner{UID: 0, GID: 60, User: "root", Group: "games"}

	var out bytes.Buffer
	pw, err := NewPackageWriter(&out, 3, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	steps := []func() error{
		func() error { return pw.AddBytes(FilePkgInfo, 0o644, info.Bytes()) },
		func() error { return pw.AddDir("var/games", 0o2775, games) },
		func() error { return pw.AddFile("var/games/score", 0o664, games, 1, strings.NewReader("0")) },
		func() error { return pw.AddBytes("var/readme", 0o644, []byte("x")) },
		pw.Close,
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	pc, err := ReadPackage(bytes.NewReader(out.Bytes()))
	if err != nil {
		t.Fatalf("ReadPackage: %v", err)
	}
	if len(pc.Owners) != 2 {
		t.Fatalf("owners = %v, want two entries", pc.Owners)
	}
	if got := pc.Owners["var/games/score"]; got != games {
		t.Errorf("owner of score = %+v, want %+v", got, games)
	}
	if got := pc.Owners["var/games"].String(); got != "root:games" {
		t.Errorf("owner of var/games = %q", got)
	}
	if _, ok := pc.Owners["var/readme"]; ok {
		t.Error("root-owned member listed in owners")
	}
}

func TestReadPackageRejectsForeignMetadata(t *testing.T) {
	var out bytes.Buffer
	pw, err := NewPackageWriter(&out, 3, time.Unix(1700000000, 0))
	if err != nil {
		t.Fatal(err)
	}
	info := (&PkgInfo{PkgName: "a", PkgVer: "1-1", Arch: "any"}).Bytes()
	if err := pw.AddFile(FilePkgInfo, 0o644, Owner{UID: 1000, GID: 1000}, int64(len(info)), bytes.NewReader(info)); err != nil {
		t.Fatal(err)
	}
	if err := pw.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadPackage(bytes.NewReader(out.Bytes())); err == nil {
		t.Error("expected error for metadata owned by uid 1000")
	}
}

func TestReadPackageRejectsGarbage(t *testing.T) {
	if _, err := ReadPackage(strings.NewReader("not zstd")); err == nil {
		t.Error("expected error")
	}
}

func TestArtifactName(t *testing.T) {
	got := ArtifactName("hello", PkgVersion{Epoch: 1, PkgVer: "2.0", PkgRel: "3"}, "x86_64")
	if got != "hello-1:2.0-3-x86_64.pkg.tar.zst" {
		t.Errorf("ArtifactName = %q", got)
	}
}
