package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/open-edge-platform/deb2arch/internal/utils/shell"
)

var OsReleaseFile = "/etc/os-release"

// OsDistribution contains information about the host Linux distribution.
type OsDistribution struct {
	Name    string   // e.g. "Arch Linux", "Ubuntu"
	Version string   // VERSION_ID, empty on rolling releases
	ID      string   // e.g. "arch", "ubuntu"
	IDLike  []string // e.g. ["arch"], ["debian"]
	Arch    string   // uname -m
}

// DetectOsDistribution parses /etc/os-release and queries the machine
// architecture.
func DetectOsDistribution(ctx context.Context) (*OsDistribution, error) {
	log := logger.Logger()
	osInfo := &OsDistribution{}

	res, err := shell.ExecCmd(ctx, "uname -m", shell.ExecOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get host architecture: %w", err)
	}
	osInfo.Arch = strings.TrimSpace(res.Stdout)

	file, err := os.Open(OsReleaseFile)
	if err != nil {
		return osInfo, fmt.Errorf("failed to open %s: %w", OsReleaseFile, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"'")
		switch strings.TrimSpace(key) {
		case "NAME":
			osInfo.Name = value
		case "VERSION_ID":
			osInfo.Version = value
		case "ID":
			osInfo.ID = strings.ToLower(value)
		case "ID_LIKE":
			// ID_LIKE can contain multiple space-separated values
			osInfo.IDLike = strings.Fields(strings.ToLower(value))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading %s: %w", OsReleaseFile, err)
	}

	log.Debugf("Detected OS distribution: %s %s (ID: %s, arch: %s)", osInfo.Name, osInfo.Version, osInfo.ID, osInfo.Arch)
	return osInfo, nil
}

// IsArchLike reports whether the distribution uses pacman packages.
func (d *OsDistribution) IsArchLike() bool {
	for _, id := range append([]string{d.ID}, d.IDLike...) {
		switch id {
		case "arch", "archarm", "manjaro", "endeavouros", "cachyos":
			return true
		}
	}
	return false
}

// DefaultProvider picks the package-manager query backend for this host:
// "pacman" when running on an Arch-like system with pacman installed,
// otherwise "none".
func DefaultProvider(ctx context.Context) string {
	osInfo, err := DetectOsDistribution(ctx)
	if err != nil {
		logger.Logger().Debugf("Host detection failed, no package provider: %v", err)
		return "none"
	}
	if osInfo.IsArchLike() && shell.IsCommandExist("pacman") {
		return "pacman"
	}
	return "none"
}
