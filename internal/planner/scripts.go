package planner

import (
	"bytes"
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
)

//go:embed install.sh.tmpl
var installTemplate string

var installTmpl = template.Must(template.New(".INSTALL").Parse(installTemplate))

const annotationPrefix = "# deb2arch:"

type substitution struct {
	construct string
	re        *regexp.Regexp
	repl      string
}

// substitutions rewrite Debian helpers that have a direct Arch equivalent.
var substitutions = []substitution{
	{"dpkg --compare-versions", regexp.MustCompile(`\bdpkg\s+--compare-versions\b`), "_deb_compare_versions"},
	{"ldconfig", regexp.MustCompile(`(^|[\s;&|(])(/sbin/)?ldconfig($|[\s;&|)])`), "${1}true${3}"},
	{"deb-systemd-invoke", regexp.MustCompile(`\bdeb-systemd-invoke\b`), "systemctl"},
	{"deb-systemd-helper", regexp.MustCompile(`\bdeb-systemd-helper\s+(enable|disable)\b`), "systemctl ${1}"},
	{"deb-systemd-helper", regexp.MustCompile(`\bdeb-systemd-helper\s+(unmask|purge|update-state|was-enabled|debian-installed|mask)\b`), "false"},
}

// unsupported constructs are kept verbatim behind an annotation.
var unsupported = []struct {
	construct string
	re        *regexp.Regexp
}{
	{"debconf", regexp.MustCompile(`/usr/share/debconf/confmodule|\bdb_(get|set|input|go|stop|purge|fset|fget|reset|register|unregister|subst|title|capb|metaget|version|beginblock|endblock|settitle|x_loadtemplatefile)\b`)},
	{"dpkg-maintscript-helper", regexp.MustCompile(`\bdpkg-maintscript-helper\b`)},
	{"update-rc.d", regexp.MustCompile(`\bupdate-rc\.d\b`)},
	{"invoke-rc.d", regexp.MustCompile(`\binvoke-rc\.d\b`)},
	{"dpkg-trigger", regexp.MustCompile(`\bdpkg-trigger\b`)},
	{"update-alternatives", regexp.MustCompile(`\bupdate-alternatives\b`)},
}

type scriptBody struct {
	Name string
	Body string
}

type installFunction struct {
	Name  string
	Calls []string
}

type installData struct {
	Generator       string
	Package         string
	Version         string
	CompareVersions bool
	Scripts         []scriptBody
	Functions       []installFunction
}

// scriptCalls lists, per pacman hook, the Debian scripts to run and their
// arguments. pacman passes the new version as $1 and the old one as $2.
var scriptCalls = map[string][]struct {
	script debutils.ControlFile
	args   string
}{
	archutils.PreInstall:  {{debutils.FilePreinst, "install"}},
	archutils.PostInstall: {{debutils.FileConfig, "configure"}, {debutils.FilePostinst, "configure"}},
	archutils.PreUpgrade:  {{debutils.FilePreinst, `upgrade "$2"`}},
	archutils.PostUpgrade: {{debutils.FileConfig, `configure "$2"`}, {debutils.FilePostinst, `configure "$2"`}},
	archutils.PreRemove:   {{debutils.FilePrerm, "remove"}},
	archutils.PostRemove:  {{debutils.FilePostrm, "remove"}},
}

// translateScripts renders the maintainer scripts of src as a .INSTALL
// file. It returns "" when the package has no scripts.
func translateScripts(src *debutils.SourcePackage) (string, []Note, error) {
	data := installData{
		Generator: archutils.Generator,
		Package:   src.Name,
		Version:   src.Version.String(),
	}
	var notes []Note
	present := make(map[debutils.ControlFile]bool)
	for _, name := range debutils.MaintainerScripts {
		raw, ok := src.Scripts[name]
		if !ok {
			continue
		}
		body, usesCompare, n := translateScript(string(name), string(raw))
		notes = append(notes, n...)
		if !hasCommand(body) {
			continue
		}
		present[name] = true
		data.CompareVersions = data.CompareVersions || usesCompare
		data.Scripts = append(data.Scripts, scriptBody{Name: string(name), Body: body})
	}
	if len(data.Scripts) == 0 {
		return "", notes, nil
	}

	for _, fn := range archutils.InstallFunctions {
		var calls []string
		for _, c := range scriptCalls[fn] {
			if present[c.script] {
				calls = append(calls, fmt.Sprintf("_deb_%s %s", c.script, c.args))
			}
		}
		if len(calls) > 0 {
			data.Functions = append(data.Functions, installFunction{Name: fn, Calls: calls})
		}
	}

	var buf bytes.Buffer
	if err := installTmpl.Execute(&buf, data); err != nil {
		return "", nil, fmt.Errorf("failed to render .INSTALL: %w", err)
	}
	return buf.String(), notes, nil
}

// translateScript rewrites one script body line by line. The shebang and
// debhelper token are dropped.
func translateScript(name, body string) (string, bool, []Note) {
	var (
		out         []string
		notes       []Note
		usesCompare bool
		noted       = make(map[string]bool)
	)
	note := func(kind NoteKind, construct, detail string) {
		if noted[construct] {
			return
		}
		noted[construct] = true
		notes = append(notes, Note{Kind: kind, Subject: name, Detail: detail})
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if i == 0 && strings.HasPrefix(trimmed, "#!") {
			continue
		}
		if trimmed == "#DEBHELPER#" {
			continue
		}
		if !strings.HasPrefix(trimmed, "#") {
			for _, s := range substitutions {
				if !s.re.MatchString(line) {
					continue
				}
				line = s.re.ReplaceAllString(line, s.repl)
				if s.construct == "dpkg --compare-versions" {
					usesCompare = true
				}
				note(NoteSubstituted, s.construct, s.construct+" translated")
			}
			for _, u := range unsupported {
				if !u.re.MatchString(line) {
					continue
				}
				indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
				out = append(out, fmt.Sprintf("%s%s %s has no Arch equivalent; kept verbatim", indent, annotationPrefix, u.construct))
				note(NotePassthrough, u.construct, u.construct+" passed through verbatim")
				break
			}
		}
		out = append(out, line)
	}
	for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
		out = out[:len(out)-1]
	}
	for len(out) > 0 && strings.TrimSpace(out[0]) == "" {
		out = out[1:]
	}
	return strings.Join(out, "\n"), usesCompare, notes
}

func hasCommand(body string) bool {
	for _, line := range strings.Split(body, "\n") {
		t := strings.TrimSpace(line)
		if t != "" && !strings.HasPrefix(t, "#") {
			return true
		}
	}
	return false
}
