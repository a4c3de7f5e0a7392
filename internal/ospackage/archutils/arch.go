package archutils

import (
	"fmt"
	"strings"
)

// archMap translates Debian architecture names to pacman's.
var archMap = map[string]string{
	"amd64":   "x86_64",
	"i386":    "i686",
	"arm64":   "aarch64",
	"armhf":   "armv7h",
	"armel":   "arm",
	"riscv64": "riscv64",
	"ppc64el": "powerpc64le",
	"all":     "any",
}

// MapArchitecture returns the pacman architecture for a Debian one.
func MapArchitecture(debArch string) (string, error) {
	a := strings.ToLower(strings.TrimSpace(debArch))
	if mapped, ok := archMap[a]; ok {
		return mapped, nil
	}
	return "", fmt.Errorf("unsupported architecture %q", debArch)
}

// DebianArchitecture is the inverse of MapArchitecture.
func DebianArchitecture(archArch string) (string, bool) {
	for deb, arch := range archMap {
		if arch == archArch {
			return deb, true
		}
	}
	return "", false
}

// ValidArch reports whether a is a pacman architecture this tool produces.
func ValidArch(a string) bool {
	_, ok := DebianArchitecture(a)
	return ok
}
