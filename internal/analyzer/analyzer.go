// Package analyzer inspects a Debian package for constructs that are likely
// to need attention after conversion.
package analyzer

import (
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

type Category string

const (
	CategoryFHS        Category = "fhs"
	CategoryLibrary    Category = "library"
	CategoryDebianPath Category = "debian_path"
	CategoryDependency Category = "dependency"
	CategoryScript     Category = "script"
	CategorySecurity   Category = "security"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Finding is one observation about the package.
type Finding struct {
	Category Category `json:"category"`
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject"`
	Message  string   `json:"message"`
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s: %s", f.Severity, f.Category, f.Subject, f.Message)
}

// Report collects the findings for one package.
type Report struct {
	Package         string    `json:"package"`
	Version         string    `json:"version"`
	Architecture    string    `json:"architecture"`
	DependencyCount int       `json:"dependency_count"`
	MappedCount     int       `json:"mapped_count"`
	Unmapped        []string  `json:"unmapped,omitempty"`
	Findings        []Finding `json:"findings,omitempty"`
}

// Count returns the number of findings with the given severity.
func (r *Report) Count(s Severity) int {
	n := 0
	for _, f := range r.Findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}

// ByCategory filters findings.
func (r *Report) ByCategory(c Category) []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Category == c {
			out = append(out, f)
		}
	}
	return out
}

// Lines renders the report as plain text lines.
func (r *Report) Lines() []string {
	lines := []string{
		fmt.Sprintf("%s %s (%s)", r.Package, r.Version, r.Architecture),
		fmt.Sprintf("dependencies: %d, mapped: %d", r.DependencyCount, r.MappedCount),
	}
	for _, u := range r.Unmapped {
		lines = append(lines, "unmapped: "+u)
	}
	for _, f := range r.Findings {
		lines = append(lines, f.String())
	}
	return lines
}

var (
	fhsTopLevel = map[string]bool{
		"bin": true, "boot": true, "dev": true, "etc": true, "home": true, "lib": true,
		"lib32": true, "lib64": true, "media": true, "mnt": true, "opt": true, "proc": true,
		"root": true, "run": true, "sbin": true, "srv": true, "sys": true, "tmp": true,
		"usr": true, "var": true,
	}

	problematicDeps = []string{"debconf", "dpkg", "apt", "update-manager", "ubuntu-release-upgrader", "snapd"}

	debianPathMarkers = []string{"/dpkg/", "/apt/", "/debian/", "/usr/share/lintian/"}

	scriptPatterns = []struct {
		pattern string
		message string
	}{
		{"dpkg", "dpkg commands need translation"},
		{"apt-get", "apt commands are not available"},
		{"update-rc.d", "init system commands need translation"},
		{"systemctl preset", "systemd presets may behave differently"},
		{"adduser", "adduser syntax differs on Arch"},
		{"debconf", "debconf is not available on Arch"},
		{"db_", "debconf is not available on Arch"},
	}
)

// Analyze runs every check over src. resolved may be nil, in which case
// dependency mapping is not assessed.
func Analyze(src *debutils.SourcePackage, resolved mapper.Resolved) *Report {
	r := &Report{
		Package:      src.Name,
		Version:      src.Version.String(),
		Architecture: src.Architecture,
	}
	checkDependencies(r, src, resolved)
	checkFiles(r, src)
	checkScripts(r, src)
	sort.SliceStable(r.Findings, func(i, j int) bool {
		return severityRank(r.Findings[i].Severity) > severityRank(r.Findings[j].Severity)
	})
	return r
}

func severityRank(s Severity) int {
	switch s {
	case SeverityError:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

func (r *Report) add(c Category, s Severity, subject, msg string) {
	r.Findings = append(r.Findings, Finding{Category: c, Severity: s, Subject: subject, Message: msg})
}

func checkDependencies(r *Report, src *debutils.SourcePackage, resolved mapper.Resolved) {
	for _, kind := range []debutils.RelationKind{debutils.PreDepends, debutils.Depends} {
		for _, entry := range src.Relation(kind) {
			r.DependencyCount++
			for _, alt := range entry.Alternatives {
				for _, p := range problematicDeps {
					if strings.Contains(alt.Name, p) {
						r.add(CategoryDependency, SeverityWarning, alt.Name, "potentially problematic dependency")
						break
					}
				}
			}
		}
		if resolved == nil {
			continue
		}
		for _, res := range resolved[kind].Resolutions {
			if res.Resolved() {
				r.MappedCount++
			} else {
				r.Unmapped = append(r.Unmapped, res.Entry.String())
			}
		}
	}
	checkJava(r, resolved)
	for _, w := range resolved.Warnings() {
		sev := SeverityInfo
		if w.Kind == mapper.WarnUnresolved && w.Hard() {
			sev = SeverityError
		} else if w.Kind != mapper.WarnConstraintDropped {
			sev = SeverityWarning
		}
		r.add(CategoryDependency, sev, w.Relation, w.String())
	}
}

// checkJava flags packages that pull in both a JRE and a JDK, which
// conflict with each other on Arch.
func checkJava(r *Report, resolved mapper.Resolved) {
	var jre, jdk []string
	for _, kind := range []debutils.RelationKind{debutils.PreDepends, debutils.Depends} {
		for _, d := range resolved[kind].Dependencies() {
			switch {
			case strings.HasPrefix(d.Name, "jre") && strings.Contains(d.Name, "openjdk"):
				jre = append(jre, d.Name)
			case strings.HasPrefix(d.Name, "jdk") && strings.Contains(d.Name, "openjdk"):
				jdk = append(jdk, d.Name)
			}
		}
	}
	if len(jre) > 0 && len(jdk) > 0 {
		r.add(CategoryDependency, SeverityWarning, "java",
			fmt.Sprintf("both JRE (%s) and JDK (%s) are required; the JDK takes precedence", strings.Join(jre, ", "), strings.Join(jdk, ", ")))
	}
}

func checkFiles(r *Report, src *debutils.SourcePackage) {
	for _, f := range src.Files {
		p := f.Path
		top, _, _ := strings.Cut(strings.TrimPrefix(p, "/"), "/")
		if top != "" && !fhsTopLevel[top] {
			r.add(CategoryFHS, SeverityWarning, p, "non-standard top-level directory")
		}
		for _, m := range debianPathMarkers {
			if strings.Contains(p+"/", m) {
				r.add(CategoryDebianPath, SeverityWarning, p, "Debian-specific path")
				break
			}
		}
		if f.Type == debutils.TypeRegular && isSharedLibrary(p) && !strings.HasPrefix(p, "/usr/lib/") {
			r.add(CategoryLibrary, SeverityInfo, p, "library outside /usr/lib")
		}
		if f.Type != debutils.TypeRegular {
			continue
		}
		if f.Mode&fs.ModeSetuid != 0 {
			r.add(CategorySecurity, SeverityWarning, p, "setuid binary")
		}
		if f.Mode&fs.ModeSetgid != 0 {
			r.add(CategorySecurity, SeverityWarning, p, "setgid binary")
		}
		if f.Mode.Perm()&0o002 != 0 {
			r.add(CategorySecurity, SeverityWarning, p, "world-writable file")
		}
	}
}

func isSharedLibrary(p string) bool {
	base := p[strings.LastIndex(p, "/")+1:]
	return strings.HasSuffix(base, ".so") || strings.Contains(base, ".so.")
}

func checkScripts(r *Report, src *debutils.SourcePackage) {
	for _, name := range debutils.MaintainerScripts {
		body, ok := src.Scripts[name]
		if !ok {
			continue
		}
		seen := make(map[string]bool)
		for _, p := range scriptPatterns {
			if !strings.Contains(string(body), p.pattern) || seen[p.message] {
				continue
			}
			seen[p.message] = true
			r.add(CategoryScript, SeverityWarning, string(name), p.message)
		}
	}
}
