package debutils

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a parsed Debian version: [epoch:]upstream[-revision].
type Version struct {
	Epoch    int
	Upstream string
	Revision string
}

// ParseVersion splits a Debian version string. The revision is everything
// after the last hyphen; the epoch everything before the first colon.
func ParseVersion(s string) (Version, error) {
	var v Version
	s = strings.TrimSpace(s)
	if s == "" {
		return v, fmt.Errorf("empty version string")
	}
	if strings.ContainsAny(s, " \t\n") {
		return v, fmt.Errorf("version %q contains whitespace", s)
	}

	rest := s
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		epoch, err := strconv.Atoi(rest[:i])
		if err != nil || epoch < 0 {
			return v, fmt.Errorf("version %q has invalid epoch", s)
		}
		v.Epoch = epoch
		rest = rest[i+1:]
	}
	if i := strings.LastIndexByte(rest, '-'); i >= 0 {
		v.Revision = rest[i+1:]
		rest = rest[:i]
		if v.Revision == "" {
			return v, fmt.Errorf("version %q has empty revision", s)
		}
	}
	v.Upstream = rest
	if v.Upstream == "" {
		return v, fmt.Errorf("version %q has empty upstream part", s)
	}

	for _, r := range v.Upstream {
		if !isAlnum(r) && !strings.ContainsRune(".+~-:", r) {
			return v, fmt.Errorf("version %q has invalid character %q in upstream part", s, r)
		}
	}
	for _, r := range v.Revision {
		if !isAlnum(r) && !strings.ContainsRune(".+~", r) {
			return v, fmt.Errorf("version %q has invalid character %q in revision", s, r)
		}
	}
	return v, nil
}

// MustParseVersion is ParseVersion for constants; it panics on error.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version in canonical form.
func (v Version) String() string {
	var b strings.Builder
	if v.Epoch > 0 || strings.Contains(v.Upstream, ":") {
		b.WriteString(strconv.Itoa(v.Epoch))
		b.WriteByte(':')
	}
	b.WriteString(v.Upstream)
	if v.Revision != "" {
		b.WriteByte('-')
		b.WriteString(v.Revision)
	}
	return b.String()
}

// IsZero reports whether v was never set.
func (v Version) IsZero() bool {
	return v.Epoch == 0 && v.Upstream == "" && v.Revision == ""
}

// Compare returns -1, 0 or 1 following dpkg ordering.
func (v Version) Compare(o Version) int {
	if v.Epoch != o.Epoch {
		if v.Epoch < o.Epoch {
			return -1
		}
		return 1
	}
	if c := verrevcmp(v.Upstream, o.Upstream); c != 0 {
		return sign(c)
	}
	return sign(verrevcmp(v.Revision, o.Revision))
}

// CompareVersions parses and compares two version strings.
func CompareVersions(a, b string) (int, error) {
	va, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlpha(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// order weighs a non-digit character: '~' sorts before the end of the
// string, letters before everything else.
func order(s string, i int) int {
	if i >= len(s) {
		return 0
	}
	c := s[i]
	switch {
	case isDigit(c):
		return 0
	case isAlpha(c):
		return int(c)
	case c == '~':
		return -1
	default:
		return int(c) + 256
	}
}

func verrevcmp(a, b string) int {
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		firstDiff := 0
		for (i < len(a) && !isDigit(a[i])) || (j < len(b) && !isDigit(b[j])) {
			ac, bc := order(a, i), order(b, j)
			if ac != bc {
				return ac - bc
			}
			i++
			j++
		}
		for i < len(a) && a[i] == '0' {
			i++
		}
		for j < len(b) && b[j] == '0' {
			j++
		}
		for i < len(a) && isDigit(a[i]) && j < len(b) && isDigit(b[j]) {
			if firstDiff == 0 {
				firstDiff = int(a[i]) - int(b[j])
			}
			i++
			j++
		}
		if i < len(a) && isDigit(a[i]) {
			return 1
		}
		if j < len(b) && isDigit(b[j]) {
			return -1
		}
		if firstDiff != 0 {
			return firstDiff
		}
	}
	return 0
}
