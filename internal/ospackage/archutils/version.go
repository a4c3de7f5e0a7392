package archutils

import (
	"strconv"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

// distroMarkers start distribution-specific suffixes that are cut off the
// upstream version, e.g. "2.1+dfsg" or "1.4ubuntu2".
var distroMarkers = []string{"dfsg", "ubuntu", "build", "deb", "+ds"}

// PkgVersion is an Arch package version: [epoch:]pkgver-pkgrel.
type PkgVersion struct {
	Epoch  int
	PkgVer string
	PkgRel string
}

// String renders the full version as used in .PKGINFO and file names.
func (v PkgVersion) String() string {
	s := v.PkgVer + "-" + v.PkgRel
	if v.Epoch > 0 {
		s = strconv.Itoa(v.Epoch) + ":" + s
	}
	return s
}

// NormalizeVersion maps a Debian version onto pacman's version rules.
func NormalizeVersion(v debutils.Version) PkgVersion {
	return PkgVersion{
		Epoch:  v.Epoch,
		PkgVer: normalizeUpstream(v.Upstream),
		PkgRel: normalizeRevision(v.Revision),
	}
}

// ConstraintVersion renders a Debian version for use in a dependency
// constraint. The revision is dropped: pacman ignores pkgrel when a
// dependency does not name one.
func ConstraintVersion(s string) (string, error) {
	v, err := debutils.ParseVersion(s)
	if err != nil {
		return "", err
	}
	out := normalizeUpstream(v.Upstream)
	if v.Epoch > 0 {
		out = strconv.Itoa(v.Epoch) + ":" + out
	}
	return out, nil
}

func normalizeUpstream(up string) string {
	cut := len(up)
	lower := strings.ToLower(up)
	for _, m := range distroMarkers {
		if i := strings.Index(lower, m); i > 0 && i < cut {
			cut = i
		}
	}
	trimmed := strings.TrimRight(up[:cut], ".+~-_")
	if trimmed == "" {
		trimmed = up
	}

	var b strings.Builder
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		switch {
		case c == '~' && i+1 < len(trimmed) && isLetter(trimmed[i+1]):
			// "1.0~rc1" -> "1.0rc1", which pacman also sorts before "1.0"
		case c == '~' || c == '+' || c == '-' || c == ':':
			b.WriteByte('.')
		default:
			b.WriteByte(c)
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	out = strings.Trim(out, ".")
	if out == "" {
		return "0"
	}
	return out
}

func normalizeRevision(rev string) string {
	end := 0
	for end < len(rev) && rev[end] >= '0' && rev[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(rev[:end])
	if err != nil || n == 0 {
		return "1"
	}
	return strconv.Itoa(n)
}

func isLetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
