// Package pacman queries the local pacman sync databases.
package pacman

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/open-edge-platform/deb2arch/internal/utils/shell"
)

const Name = "pacman"

// Pacman implements provider.Provider on top of `pacman -Si`.
type Pacman struct {
	cfg provider.Config
}

func init() {
	provider.Register(Name, func() provider.Provider { return &Pacman{} })
}

func (p *Pacman) Name() string { return Name }

func (p *Pacman) Init(cfg provider.Config) error {
	if !shell.IsCommandExist("pacman") {
		return fmt.Errorf("pacman not found in PATH")
	}
	p.cfg = cfg
	return nil
}

func (p *Pacman) Packages(ctx context.Context) ([]ospackage.PackageInfo, error) {
	log := logger.Logger()
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	res, err := shell.ExecCmd(ctx, "pacman -Si", shell.ExecOptions{Env: []string{"LC_ALL=C"}})
	if err != nil {
		return nil, fmt.Errorf("failed to query pacman: %w: %s", err, strings.TrimSpace(res.Stderr))
	}
	pkgs, err := ParseSyncInfo(res.Stdout)
	if err != nil {
		return nil, err
	}
	// -Si lists every sync repository; restrict afterwards.
	if len(p.cfg.Repos) > 0 {
		keep := make(map[string]bool, len(p.cfg.Repos))
		for _, r := range p.cfg.Repos {
			keep[r] = true
		}
		filtered := pkgs[:0]
		for _, pkg := range pkgs {
			if keep[pkg.Repository] {
				filtered = append(filtered, pkg)
			}
		}
		pkgs = filtered
	}
	log.Infof("Found %d packages in pacman sync databases", len(pkgs))
	return pkgs, nil
}

// ParseSyncInfo parses `LC_ALL=C pacman -Si` output. Records are separated by
// blank lines; wrapped values continue on lines indented with spaces.
func ParseSyncInfo(out string) ([]ospackage.PackageInfo, error) {
	var (
		pkgs    []ospackage.PackageInfo
		cur     ospackage.PackageInfo
		lastKey string
		inRec   bool
	)
	flush := func() error {
		if !inRec {
			return nil
		}
		if cur.Name == "" {
			return fmt.Errorf("pacman record without a Name field")
		}
		pkgs = append(pkgs, cur)
		cur, lastKey, inRec = ospackage.PackageInfo{}, "", false
		return nil
	}

	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			if err := flush(); err != nil {
				return nil, err
			}
			continue
		}
		key, value := lastKey, strings.TrimSpace(line)
		if line[0] != ' ' && line[0] != '\t' {
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			key, value = strings.TrimSpace(k), strings.TrimSpace(v)
			lastKey = key
		}
		inRec = true
		switch key {
		case "Repository":
			cur.Repository = value
		case "Name":
			cur.Name = value
		case "Version":
			cur.Version = value
		case "Description":
			if cur.Description == "" {
				cur.Description = value
			} else {
				cur.Description += " " + value
			}
		case "Architecture":
			cur.Arch = value
		case "Provides":
			if value != "None" {
				cur.Provides = append(cur.Provides, strings.Fields(value)...)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pacman output: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return pkgs, nil
}
