package archutils

import (
	"fmt"
	"regexp"
	"strings"
)

var nameRe = regexp.MustCompile(`^[a-z0-9@_+][a-z0-9@._+-]*$`)

// ValidName reports whether s satisfies pacman's package name grammar.
func ValidName(s string) bool {
	return len(s) <= 255 && nameRe.MatchString(s)
}

// SanitizeName deterministically turns s into a valid package name.
// changed reports whether the result differs from the input.
func SanitizeName(s string) (name string, changed bool, err error) {
	if ValidName(s) {
		return s, false, nil
	}
	var b strings.Builder
	lastDash := false
	for _, r := range strings.ToLower(s) {
		valid := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || strings.ContainsRune("@._+-", r)
		if !valid {
			r = '-'
		}
		if r == '-' && lastDash {
			continue
		}
		lastDash = r == '-'
		b.WriteRune(r)
	}
	name = strings.TrimLeft(b.String(), "-.")
	if len(name) > 255 {
		name = name[:255]
	}
	if !ValidName(name) {
		return "", false, fmt.Errorf("cannot derive a valid package name from %q", s)
	}
	return name, true, nil
}
