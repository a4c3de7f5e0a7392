package mapper

import (
	"fmt"
	"regexp"
)

// Rule rewrites a Debian name into a likely Arch name. A rewrite only
// counts when the result is a known Arch package.
type Rule struct {
	Name        string  `yaml:"name" json:"name"`
	Pattern     string  `yaml:"pattern" json:"pattern"`
	Replacement string  `yaml:"replacement" json:"replacement"`
	Confidence  float64 `yaml:"confidence" json:"confidence"`
}

// DefaultRules are the naming conventions that differ between the two
// distributions.
var DefaultRules = []Rule{
	{"lib-version", `^lib(.+?)(\d+)$`, "lib${1}", 0.8},
	{"python3", `^python3-(.+)$`, "python-${1}", 0.9},
	{"perl-lib", `^lib(.+)-perl$`, "perl-${1}", 0.85},
	{"ruby", `^ruby-(.+)$`, "ruby-${1}", 0.9},
	{"node", `^node-(.+)$`, "nodejs-${1}", 0.85},
	{"dev-files", `^lib(.+)-dev$`, "${1}", 0.6},
	{"debug", `^(.+)-dbg$`, "${1}-debug", 0.7},
	{"docs", `^(.+)-doc$`, "${1}-docs", 0.8},
	{"gtk-theme", `^(.+)-theme-(.+)$`, "${1}-${2}-theme", 0.75},
	{"fonts", `^fonts-(.+)$`, "ttf-${1}", 0.7},
	{"gstreamer", `^gstreamer1\.0-(.+)$`, "gst-plugins-${1}", 0.85},
	{"typelib", `^gir1\.2-(.+)-[\d.]+$`, "${1}", 0.6},
	{"qt5-lib", `^libqt5(.+?)\d+$`, "qt5-${1}", 0.7},
	{"qt6-lib", `^libqt6(.+?)\d+$`, "qt6-${1}", 0.7},
	{"boost", `^libboost-(.+?)[\d.]+$`, "boost-libs", 0.75},
	{"icu", `^libicu(.+)\d+$`, "icu", 0.8},
	{"llvm", `^libllvm\d+$`, "llvm-libs", 0.9},
	{"clang", `^libclang\d+-\d+$`, "clang", 0.9},
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("mapping rule %s: %w", r.Name, err)
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			return nil, fmt.Errorf("mapping rule %s: confidence %v out of range", r.Name, r.Confidence)
		}
		out = append(out, compiledRule{Rule: r, re: re})
	}
	return out, nil
}

func (r compiledRule) apply(name string) (string, bool) {
	if !r.re.MatchString(name) {
		return "", false
	}
	return r.re.ReplaceAllString(name, r.Replacement), true
}
