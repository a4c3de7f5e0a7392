// Package archrepo reads pacman repository databases straight from a mirror,
// for hosts that have no pacman installed.
package archrepo

import (
	"archive/tar"
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/open-edge-platform/deb2arch/internal/utils/network"
)

const Name = "archrepo"

var (
	DefaultMirror = "https://geo.mirror.pkgbuild.com/$repo/os/$arch"
	DefaultRepos  = []string{"core", "extra"}
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ArchRepo implements provider.Provider by downloading {repo}.db files.
type ArchRepo struct {
	mirror string
	repos  []string
	arch   string
	client *http.Client
}

func init() {
	provider.Register(Name, func() provider.Provider { return &ArchRepo{} })
}

func (p *ArchRepo) Name() string { return Name }

func (p *ArchRepo) Init(cfg provider.Config) error {
	p.mirror = cfg.Mirror
	if p.mirror == "" {
		p.mirror = DefaultMirror
	}
	if !strings.Contains(p.mirror, "$repo") {
		return fmt.Errorf("mirror %q must contain $repo", p.mirror)
	}
	p.repos = cfg.Repos
	if len(p.repos) == 0 {
		p.repos = DefaultRepos
	}
	p.arch = cfg.Arch
	if p.arch == "" {
		p.arch = "x86_64"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	p.client = network.NewSecureHTTPClient(timeout)
	return nil
}

// DatabaseURL expands the mirror template for one repository.
func (p *ArchRepo) DatabaseURL(repo string) string {
	base := strings.NewReplacer("$repo", repo, "$arch", p.arch).Replace(p.mirror)
	return strings.TrimSuffix(base, "/") + "/" + repo + ".db"
}

func (p *ArchRepo) Packages(ctx context.Context) ([]ospackage.PackageInfo, error) {
	log := logger.Logger()
	var all []ospackage.PackageInfo
	for _, repo := range p.repos {
		url := p.DatabaseURL(repo)
		log.Infof("Fetching package database %s", url)
		body, err := network.Get(ctx, p.client, url)
		if err != nil {
			return nil, err
		}
		pkgs, err := ParseDatabase(body, repo)
		body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", url, err)
		}
		log.Infof("Found %d packages in %s", len(pkgs), repo)
		all = append(all, pkgs...)
	}
	return all, nil
}

// ParseDatabase reads a pacman sync database: a gzip- or zstd-compressed
// tarball holding one "desc" file per package.
func ParseDatabase(r io.Reader, repo string) ([]ospackage.PackageInfo, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	var dec io.Reader
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip database: %w", err)
		}
		defer zr.Close()
		dec = zr
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd database: %w", err)
		}
		defer zr.Close()
		dec = zr
	default:
		dec = br
	}

	var pkgs []ospackage.PackageInfo
	tr := tar.NewReader(dec)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read database tarball: %w", err)
		}
		if h.Typeflag != tar.TypeReg || path.Base(h.Name) != "desc" {
			continue
		}
		pkg, err := parseDesc(tr)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", h.Name, err)
		}
		pkg.Repository = repo
		pkgs = append(pkgs, pkg)
	}
	return pkgs, nil
}

// parseDesc reads "%KEY%" sections separated by blank lines.
func parseDesc(r io.Reader) (ospackage.PackageInfo, error) {
	var pkg ospackage.PackageInfo
	var section string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			section = ""
		case strings.HasPrefix(line, "%") && strings.HasSuffix(line, "%") && len(line) > 1:
			section = strings.Trim(line, "%")
		default:
			switch section {
			case "NAME":
				pkg.Name = line
			case "VERSION":
				pkg.Version = line
			case "DESC":
				pkg.Description = line
			case "ARCH":
				pkg.Arch = line
			case "PROVIDES":
				pkg.Provides = append(pkg.Provides, line)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return pkg, err
	}
	if pkg.Name == "" {
		return pkg, fmt.Errorf("desc has no %%NAME%%")
	}
	return pkg, nil
}
