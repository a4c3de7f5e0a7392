package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
)

const (
	// None disables package-manager queries.
	None = "none"

	// AURName is the provider chained after the primary one when
	// Config.AUR is set.
	AURName = "aur"
)

// Config selects and parameterises a provider.
type Config struct {
	Type string `yaml:"type" json:"type"`
	// Mirror is a pacman-style server URL; $repo and $arch are expanded.
	Mirror  string        `yaml:"mirror,omitempty" json:"mirror,omitempty"`
	Repos   []string      `yaml:"repos,omitempty" json:"repos,omitempty"`
	Arch    string        `yaml:"arch,omitempty" json:"arch,omitempty"`
	File    string        `yaml:"file,omitempty" json:"file,omitempty"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	// AUR adds the Arch User Repository behind the primary provider.
	AUR bool `yaml:"aur,omitempty" json:"aur,omitempty"`
	// AURURL overrides the AUR base URL.
	AURURL string `yaml:"aur_url,omitempty" json:"aur_url,omitempty"`
}

// Provider enumerates the packages known to the target package manager.
type Provider interface {
	// Name is a unique ID, e.g. "pacman" or "archrepo".
	Name() string

	// Init validates cfg and does any one-time setup.
	Init(cfg Config) error

	// Packages returns every package with its provides.
	Packages(ctx context.Context) ([]ospackage.PackageInfo, error)
}

// Factory creates an uninitialised provider.
type Factory func() Provider

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider available under name. Backends call it from init.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[name] = f
}

// Get returns a fresh provider registered under name.
func Get(name string) (Provider, bool) {
	mu.RLock()
	defer mu.RUnlock()
	f, ok := factories[name]
	if !ok {
		return nil, false
	}
	return f(), true
}

// Names lists the registered providers.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New creates and initialises the provider selected by cfg.Type, chained
// with the AUR when cfg.AUR is set. It returns nil, nil when nothing is
// selected.
func New(cfg Config) (Provider, error) {
	var chain Chain
	if cfg.Type != "" && cfg.Type != None {
		p, err := newOne(cfg.Type, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	if cfg.AUR && cfg.Type != AURName {
		p, err := newOne(AURName, cfg)
		if err != nil {
			return nil, err
		}
		chain = append(chain, p)
	}
	switch len(chain) {
	case 0:
		return nil, nil
	case 1:
		return chain[0], nil
	}
	return chain, nil
}

func newOne(name string, cfg Config) (Provider, error) {
	p, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown package provider %q (available: %v)", name, Names())
	}
	if err := p.Init(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialise %s provider: %w", name, err)
	}
	return p, nil
}

// Chain queries several initialised providers in order. When two report
// the same package name the earlier one wins.
type Chain []Provider

func (c Chain) Name() string {
	names := make([]string, len(c))
	for i, p := range c {
		names[i] = p.Name()
	}
	return strings.Join(names, "+")
}

// Init is a no-op; members are initialised before they are chained.
func (c Chain) Init(Config) error { return nil }

func (c Chain) Packages(ctx context.Context) ([]ospackage.PackageInfo, error) {
	var all []ospackage.PackageInfo
	seen := make(map[string]bool)
	for _, p := range c {
		pkgs, err := p.Packages(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.Name(), err)
		}
		for _, pkg := range pkgs {
			if seen[pkg.Name] {
				continue
			}
			seen[pkg.Name] = true
			all = append(all, pkg)
		}
	}
	return all, nil
}
