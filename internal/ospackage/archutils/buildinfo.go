package archutils

import (
	"bytes"
	"fmt"
)

// BuildInfo is the content of a package's .BUILDINFO file (format 2).
type BuildInfo struct {
	PkgName        string
	PkgBase        string
	PkgVer         string
	PkgArch        string
	PkgBuildSHA256 string
	Packager       string
	BuildDate      int64
	BuildDir       string
	StartDir       string
	BuildTool      string
	BuildToolVer   string
	BuildEnv       []string
	Options        []string
	Installed      []string
}

func (bi *BuildInfo) Bytes() []byte {
	var b bytes.Buffer
	base := bi.PkgBase
	if base == "" {
		base = bi.PkgName
	}
	tool := bi.BuildTool
	if tool == "" {
		tool = Generator
	}
	fmt.Fprintf(&b, "format = 2\n")
	fmt.Fprintf(&b, "pkgname = %s\n", bi.PkgName)
	fmt.Fprintf(&b, "pkgbase = %s\n", base)
	fmt.Fprintf(&b, "pkgver = %s\n", bi.PkgVer)
	fmt.Fprintf(&b, "pkgarch = %s\n", bi.PkgArch)
	fmt.Fprintf(&b, "pkgbuild_sha256sum = %s\n", bi.PkgBuildSHA256)
	fmt.Fprintf(&b, "packager = %s\n", bi.Packager)
	fmt.Fprintf(&b, "builddate = %d\n", bi.BuildDate)
	fmt.Fprintf(&b, "builddir = %s\n", bi.BuildDir)
	fmt.Fprintf(&b, "startdir = %s\n", bi.StartDir)
	fmt.Fprintf(&b, "buildtool = %s\n", tool)
	fmt.Fprintf(&b, "buildtoolver = %s\n", bi.BuildToolVer)
	for _, e := range bi.BuildEnv {
		fmt.Fprintf(&b, "buildenv = %s\n", e)
	}
	for _, o := range bi.Options {
		fmt.Fprintf(&b, "options = %s\n", o)
	}
	for _, i := range bi.Installed {
		fmt.Fprintf(&b, "installed = %s\n", i)
	}
	return b.Bytes()
}
