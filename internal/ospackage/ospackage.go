package ospackage

import "strings"

// PackageInfo describes one package known to the target package manager.
type PackageInfo struct {
	Name        string   // e.g. "glibc"
	Version     string   // e.g. "2.39+r52-1"
	Arch        string   // e.g. "x86_64", "any"
	Repository  string   // e.g. "core", "extra"; empty when unknown
	Description string   // one-line pkgdesc
	Provides    []string // capabilities, e.g. "libfoo.so=2-64", "sh"
}

// Provide is one parsed entry of PackageInfo.Provides.
type Provide struct {
	Name    string
	Version string // empty for unversioned provides
}

// ParseProvide splits "name=version" into its parts. Comparison operators
// other than "=" are tolerated and treated as "=".
func ParseProvide(s string) Provide {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, "<>=")
	if i < 0 {
		return Provide{Name: s}
	}
	return Provide{Name: s[:i], Version: strings.TrimLeft(s[i:], "<>=")}
}

// ParsedProvides returns p.Provides split into name and version.
func (p PackageInfo) ParsedProvides() []Provide {
	out := make([]Provide, 0, len(p.Provides))
	for _, s := range p.Provides {
		if pr := ParseProvide(s); pr.Name != "" {
			out = append(out, pr)
		}
	}
	return out
}
