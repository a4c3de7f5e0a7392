// Package static serves a package list from a YAML file, for offline
// conversions and reproducible mapping tests.
package static

import (
	"context"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/provider"
)

const Name = "static"

// File is the on-disk format:
//
//	packages:
//	  - name: zlib
//	    version: 1:1.3.1-2
//	    provides: [libz.so=1-64]
type File struct {
	Packages []Package `json:"packages"`
}

type Package struct {
	Name        string   `json:"name"`
	Version     string   `json:"version,omitempty"`
	Arch        string   `json:"arch,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	Description string   `json:"description,omitempty"`
	Provides    []string `json:"provides,omitempty"`
}

// Static implements provider.Provider over a fixed list.
type Static struct {
	path string
	pkgs []ospackage.PackageInfo
}

func init() {
	provider.Register(Name, func() provider.Provider { return &Static{} })
}

// New returns a provider serving pkgs directly.
func New(pkgs []ospackage.PackageInfo) *Static {
	return &Static{pkgs: pkgs}
}

func (s *Static) Name() string { return Name }

func (s *Static) Init(cfg provider.Config) error {
	if cfg.File == "" {
		return fmt.Errorf("static provider requires a file")
	}
	s.path = cfg.File
	return nil
}

func (s *Static) Packages(ctx context.Context) ([]ospackage.PackageInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.path == "" {
		return s.pkgs, nil
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package list: %w", err)
	}
	return Parse(data)
}

// Parse decodes a package list document.
func Parse(data []byte) ([]ospackage.PackageInfo, error) {
	var f File
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse package list: %w", err)
	}
	out := make([]ospackage.PackageInfo, 0, len(f.Packages))
	for i, p := range f.Packages {
		if p.Name == "" {
			return nil, fmt.Errorf("package list entry %d has no name", i)
		}
		out = append(out, ospackage.PackageInfo{
			Name:        p.Name,
			Version:     p.Version,
			Arch:        p.Arch,
			Repository:  p.Repository,
			Description: p.Description,
			Provides:    p.Provides,
		})
	}
	return out, nil
}
