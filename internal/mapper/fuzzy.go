package mapper

import (
	"regexp"
	"strings"

	"github.com/xrash/smetrics"
)

var (
	fuzzyPrefixes = []string{"lib", "python3-", "python-", "perl-", "ruby-", "node-", "golang-"}
	fuzzySuffixes = []string{"-dev", "-dbg", "-doc", "-common", "-data", "-bin", "-utils"}

	patternRewrites = []struct {
		re   *regexp.Regexp
		repl string
	}{
		{regexp.MustCompile(`^lib(.+?)\d+$`), "lib${1}"},
		{regexp.MustCompile(`^python3-(.+)$`), "python-${1}"},
		{regexp.MustCompile(`^(.+)-dev$`), "${1}-devel"},
	}
)

// fuzzyKey reduces a package name to the part worth comparing:
// common prefixes, suffixes, trailing version digits and separators go.
func fuzzyKey(name string) string {
	n := strings.ToLower(name)
	for _, p := range fuzzyPrefixes {
		if strings.HasPrefix(n, p) {
			n = n[len(p):]
			break
		}
	}
	for _, s := range fuzzySuffixes {
		if strings.HasSuffix(n, s) {
			n = n[:len(n)-len(s)]
			break
		}
	}
	n = strings.TrimRight(n, "0123456789.")
	return strings.NewReplacer("-", "", "_", "").Replace(n)
}

// similarity scores how likely arch names the same software as debian,
// in [0, 1].
func similarity(debian, arch string) float64 {
	a, b := fuzzyKey(debian), fuzzyKey(arch)
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 0.95
	}
	scores := []float64{
		smetrics.JaroWinkler(a, b, 0.7, 4),
		editSimilarity(a, b),
	}
	if p := patternScore(debian, arch); p > 0 {
		scores = append(scores, p)
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

func editSimilarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(smetrics.WagnerFischer(a, b, 1, 1, 1))/float64(longest)
}

func patternScore(debian, arch string) float64 {
	for _, p := range patternRewrites {
		if p.re.MatchString(debian) && p.re.ReplaceAllString(debian, p.repl) == arch {
			return 0.85
		}
	}
	if strings.Contains(debian, arch) || strings.Contains(arch, debian) {
		short, long := len(debian), len(arch)
		if short > long {
			short, long = long, short
		}
		return float64(short) / float64(long) * 0.7
	}
	return 0
}

// smetricsRaw compares the unreduced names; it breaks ties between
// candidates that reduce to the same key.
func smetricsRaw(a, b string) float64 {
	return smetrics.JaroWinkler(a, b, 0.7, 4)
}
