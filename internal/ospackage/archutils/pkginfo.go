package archutils

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Generator is written into generated metadata headers.
const Generator = "deb2arch"

// PkgInfo is the content of a package's .PKGINFO file.
type PkgInfo struct {
	PkgName    string
	PkgBase    string
	PkgVer     string
	PkgDesc    string
	URL        string
	BuildDate  int64
	Packager   string
	Size       int64
	Arch       string
	License    []string
	Groups     []string
	Replaces   []string
	Conflicts  []string
	Provides   []string
	Backup     []string
	Depends    []string
	OptDepends []string
	XData      []string
}

// Bytes renders the file in the key order makepkg uses.
func (p *PkgInfo) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Generated by %s\n", Generator)
	single := func(k, v string) {
		if v != "" {
			fmt.Fprintf(&b, "%s = %s\n", k, v)
		}
	}
	multi := func(k string, vs []string) {
		for _, v := range vs {
			fmt.Fprintf(&b, "%s = %s\n", k, v)
		}
	}
	base := p.PkgBase
	if base == "" {
		base = p.PkgName
	}
	single("pkgname", p.PkgName)
	single("pkgbase", base)
	multi("xdata", p.XData)
	single("pkgver", p.PkgVer)
	single("pkgdesc", p.PkgDesc)
	single("url", p.URL)
	single("builddate", strconv.FormatInt(p.BuildDate, 10))
	single("packager", p.Packager)
	single("size", strconv.FormatInt(p.Size, 10))
	single("arch", p.Arch)
	multi("license", p.License)
	multi("replaces", p.Replaces)
	multi("group", p.Groups)
	multi("conflict", p.Conflicts)
	multi("provides", p.Provides)
	multi("backup", p.Backup)
	multi("depend", p.Depends)
	multi("optdepend", p.OptDepends)
	return b.Bytes()
}

// ParsePkgInfo reads a .PKGINFO file.
func ParsePkgInfo(r io.Reader) (*PkgInfo, error) {
	p := &PkgInfo{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, " = ")
		if !ok {
			return nil, fmt.Errorf(".PKGINFO line %d: expected \"key = value\"", line)
		}
		var err error
		switch key {
		case "pkgname":
			p.PkgName = value
		case "pkgbase":
			p.PkgBase = value
		case "pkgver":
			p.PkgVer = value
		case "pkgdesc":
			p.PkgDesc = value
		case "url":
			p.URL = value
		case "builddate":
			p.BuildDate, err = strconv.ParseInt(value, 10, 64)
		case "packager":
			p.Packager = value
		case "size":
			p.Size, err = strconv.ParseInt(value, 10, 64)
		case "arch":
			p.Arch = value
		case "license":
			p.License = append(p.License, value)
		case "group":
			p.Groups = append(p.Groups, value)
		case "replaces":
			p.Replaces = append(p.Replaces, value)
		case "conflict":
			p.Conflicts = append(p.Conflicts, value)
		case "provides":
			p.Provides = append(p.Provides, value)
		case "backup":
			p.Backup = append(p.Backup, value)
		case "depend":
			p.Depends = append(p.Depends, value)
		case "optdepend":
			p.OptDepends = append(p.OptDepends, value)
		case "xdata":
			p.XData = append(p.XData, value)
		}
		if err != nil {
			return nil, fmt.Errorf(".PKGINFO line %d: %s: %w", line, key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read .PKGINFO: %w", err)
	}
	if p.PkgName == "" || p.PkgVer == "" || p.Arch == "" {
		return nil, fmt.Errorf(".PKGINFO is missing pkgname, pkgver or arch")
	}
	return p, nil
}
