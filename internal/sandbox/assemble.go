package sandbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/planner"
)

// recordedBuildDir stands in for the session path so that identical
// inputs produce identical packages.
const recordedBuildDir = "/build"

var (
	buildEnv     = []string{"!distcc", "!ccache", "!check", "!sign"}
	buildOptions = []string{"!strip", "!docs", "!libtool", "!staticlibs"}
)

// stagedEntry is a file found in the staging tree after hooks ran.
type stagedEntry struct {
	rel  string // slash-separated, relative to the package root
	full string
	info fs.FileInfo
	link string
	sum  string
}

// collect walks the staging tree in lexical order.
func collect(ctx context.Context, root string) ([]stagedEntry, error) {
	var out []stagedEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		e := stagedEntry{rel: filepath.ToSlash(rel), full: p, info: info}
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			if e.link, err = os.Readlink(p); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if e.sum, err = fileSHA256(p); err != nil {
				return err
			}
		case info.IsDir():
		default:
			return fmt.Errorf("%w: special file %s in staging", ErrInvalidPlan, rel)
		}
		out = append(out, e)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].rel < out[j].rel })
	return out, err
}

func fileSHA256(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// mode is the packaged permission set. Planned entries keep the mode they
// had in the .deb; files created by hooks keep their staged mode.
func (e stagedEntry) mode(plan *planner.BuildPlan) fs.FileMode {
	m := e.info.Mode()
	if pf, ok := plan.FileAt("/" + e.rel); ok {
		m = pf.Mode
	}
	return m.Perm() | m&(fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky)
}

// owner is the packaged ownership. Staged files belong to the build user,
// so planned entries take the ownership recorded in the .deb and files
// created by hooks are owned by root.
func (e stagedEntry) owner(plan *planner.BuildPlan) archutils.Owner {
	if pf, ok := plan.FileAt("/" + e.rel); ok {
		return pf.Owner
	}
	return archutils.Owner{}
}

// assemble writes the package into the scratch directory and returns its
// path together with the .PKGINFO that went into it.
func (b *Builder) assemble(ctx context.Context, s *Session, plan *planner.BuildPlan, debSum string, when time.Time) (string, *archutils.PkgInfo, error) {
	entries, err := collect(ctx, s.Staging)
	if err != nil {
		return "", nil, fmt.Errorf("failed to scan staging: %w", err)
	}

	target := plan.Target
	var size int64
	for _, e := range entries {
		if e.info.Mode().IsRegular() {
			size += e.info.Size()
		}
	}
	target.Size = size
	info := target.PkgInfo(when)

	var mtree bytes.Buffer
	if err := archutils.WriteMtree(&mtree, mtreeEntries(entries, plan, when)); err != nil {
		return "", nil, err
	}
	bi := &archutils.BuildInfo{
		PkgName:        target.PkgName,
		PkgVer:         target.Version().String(),
		PkgArch:        target.Arch,
		PkgBuildSHA256: debSum,
		Packager:       target.Packager,
		BuildDate:      when.Unix(),
		BuildDir:       recordedBuildDir,
		StartDir:       recordedBuildDir,
		BuildToolVer:   b.opts.ToolVersion,
		BuildEnv:       buildEnv,
		Options:        buildOptions,
	}

	out := scratchPath(s, plan.ArtifactName())
	f, err := os.OpenFile(out, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", nil, err
	}
	pw, err := archutils.NewPackageWriter(f, b.opts.CompressionLevel, when)
	if err != nil {
		f.Close()
		return "", nil, err
	}
	if err := writeMembers(ctx, pw, entries, plan, bi, &mtree, info); err != nil {
		f.Close()
		return "", nil, err
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return "", nil, err
	}
	if err := f.Close(); err != nil {
		return "", nil, err
	}
	return out, info, nil
}

func writeMembers(ctx context.Context, pw *archutils.PackageWriter, entries []stagedEntry, plan *planner.BuildPlan,
	bi *archutils.BuildInfo, mtree *bytes.Buffer, info *archutils.PkgInfo) error {
	if err := pw.AddBytes(archutils.FileBuildInfo, 0644, bi.Bytes()); err != nil {
		return err
	}
	if err := pw.AddBytes(archutils.FileMtree, 0644, mtree.Bytes()); err != nil {
		return err
	}
	if err := pw.AddBytes(archutils.FilePkgInfo, 0644, info.Bytes()); err != nil {
		return err
	}
	if plan.Install != "" {
		if err := pw.AddBytes(archutils.FileInstall, 0644, []byte(plan.Install)); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch {
		case e.link != "":
			if err := pw.AddSymlink(e.rel, e.link, e.owner(plan)); err != nil {
				return err
			}
		case e.info.IsDir():
			if err := pw.AddDir(e.rel, e.mode(plan), e.owner(plan)); err != nil {
				return err
			}
		default:
			if err := addStagedFile(pw, e, plan); err != nil {
				return err
			}
		}
	}
	return nil
}

func addStagedFile(pw *archutils.PackageWriter, e stagedEntry, plan *planner.BuildPlan) error {
	f, err := os.Open(e.full)
	if err != nil {
		return err
	}
	defer f.Close()
	return pw.AddFile(e.rel, e.mode(plan), e.owner(plan), e.info.Size(), f)
}

func mtreeEntries(entries []stagedEntry, plan *planner.BuildPlan, when time.Time) []archutils.MtreeEntry {
	meta := []string{archutils.FileBuildInfo, archutils.FilePkgInfo}
	if plan.Install != "" {
		meta = append(meta, archutils.FileInstall)
	}
	sort.Strings(meta)
	out := make([]archutils.MtreeEntry, 0, len(entries)+len(meta))
	for _, m := range meta {
		// metadata hashes are not recorded; pacman ignores them
		out = append(out, archutils.MtreeEntry{Path: m, Type: "file", Mode: 0644, Time: when.Unix()})
	}
	for _, e := range entries {
		owner := e.owner(plan)
		me := archutils.MtreeEntry{Path: e.rel, Mode: e.mode(plan), UID: owner.UID, GID: owner.GID, Time: when.Unix()}
		switch {
		case e.link != "":
			me.Type, me.Link, me.Mode = "link", e.link, 0777
		case e.info.IsDir():
			me.Type = "dir"
		default:
			me.Type, me.Size, me.SHA256 = "file", e.info.Size(), e.sum
		}
		out = append(out, me)
	}
	return out
}

// verify reopens the artifact and checks it against the plan.
func verify(artifact string, plan *planner.BuildPlan) error {
	f, err := os.Open(artifact)
	if err != nil {
		return err
	}
	defer f.Close()
	pc, err := archutils.ReadPackage(f)
	if err != nil {
		return err
	}
	want := []string{archutils.FileBuildInfo, archutils.FileMtree, archutils.FilePkgInfo}
	if plan.Install != "" {
		want = append(want, archutils.FileInstall)
	}
	if len(pc.Members) < len(want) {
		return fmt.Errorf("package has %d members, expected at least %d", len(pc.Members), len(want))
	}
	for i, name := range want {
		if pc.Members[i] != name {
			return fmt.Errorf("member %d is %s, expected %s", i, pc.Members[i], name)
		}
	}
	t := plan.Target
	if pc.PkgInfo.PkgName != t.PkgName || pc.PkgInfo.PkgVer != t.Version().String() || pc.PkgInfo.Arch != t.Arch {
		return fmt.Errorf("package identity %s %s %s does not match plan %s %s %s",
			pc.PkgInfo.PkgName, pc.PkgInfo.PkgVer, pc.PkgInfo.Arch, t.PkgName, t.Version(), t.Arch)
	}
	for _, p := range pc.Payload {
		if p != path.Clean(p) || path.IsAbs(p) {
			return fmt.Errorf("%w: member %s", ErrPathEscape, p)
		}
	}
	return nil
}
