package mapper

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"

	"sigs.k8s.io/yaml"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

// SnapshotSchema is the version of the on-disk snapshot format.
const SnapshotSchema = 1

type snapshotFile struct {
	Schema     int                 `json:"schema"`
	Generation uint64              `json:"generation"`
	Options    string              `json:"options,omitempty"`
	Aliases    []Alias             `json:"aliases,omitempty"`
	Virtuals   map[string][]string `json:"virtuals,omitempty"`
	Packages   []packageRecord     `json:"packages,omitempty"`
	Learned    map[string][]Match  `json:"learned,omitempty"`
}

type packageRecord struct {
	Name       string   `json:"name"`
	Version    string   `json:"version,omitempty"`
	Arch       string   `json:"arch,omitempty"`
	Repository string   `json:"repository,omitempty"`
	Provides   []string `json:"provides,omitempty"`
}

// Save writes the snapshot to path. The file is replaced atomically so
// concurrent readers see either the old or the new version.
func (s *Snapshot) Save(path string) error {
	return s.save(path, "")
}

func (s *Snapshot) save(path, options string) error {
	f := snapshotFile{
		Schema:     SnapshotSchema,
		Generation: s.generation,
		Options:    options,
		Virtuals:   s.virtuals,
		Learned:    s.learned,
	}
	for _, a := range s.aliases {
		f.Aliases = append(f.Aliases, a)
	}
	sort.Slice(f.Aliases, func(i, j int) bool { return f.Aliases[i].Debian < f.Aliases[j].Debian })
	for _, name := range s.names {
		p := s.packages[name]
		f.Packages = append(f.Packages, packageRecord{
			Name: p.Name, Version: p.Version, Arch: p.Arch, Repository: p.Repository, Provides: p.Provides,
		})
	}

	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to encode mapping snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temporary snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write mapping snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync mapping snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close mapping snapshot: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish mapping snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot reads a snapshot written by Save.
func LoadSnapshot(path string) (*Snapshot, error) {
	s, _, err := loadSnapshot(path)
	return s, err
}

func loadSnapshot(path string) (*Snapshot, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read mapping snapshot: %w", err)
	}
	var f snapshotFile
	if err := yaml.UnmarshalStrict(data, &f); err != nil {
		return nil, "", fmt.Errorf("failed to parse mapping snapshot %s: %w", path, err)
	}
	if f.Schema != SnapshotSchema {
		return nil, "", fmt.Errorf("mapping snapshot %s has schema %d, want %d", path, f.Schema, SnapshotSchema)
	}
	pkgs := make([]ospackage.PackageInfo, 0, len(f.Packages))
	for _, p := range f.Packages {
		pkgs = append(pkgs, ospackage.PackageInfo{
			Name: p.Name, Version: p.Version, Arch: p.Arch, Repository: p.Repository, Provides: p.Provides,
		})
	}
	s := NewSnapshot(&Tables{Aliases: f.Aliases, Virtuals: f.Virtuals}, pkgs)
	s.generation = f.Generation
	for k, v := range f.Learned {
		s.learned[k] = v
	}
	return s, f.Options, nil
}

// optionsFingerprint identifies the resolution options that shaped the
// cached lookups.
func optionsFingerprint(opts Options, rules []Rule) (string, error) {
	data, err := yaml.Marshal(struct {
		Threshold     float64 `json:"threshold"`
		LowConfidence float64 `json:"low_confidence"`
		Arch          string  `json:"arch"`
		Rules         []Rule  `json:"rules"`
	}{opts.Threshold, opts.LowConfidence, opts.Arch, rules})
	if err != nil {
		return "", fmt.Errorf("failed to fingerprint mapper options: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// SaveFile persists the current snapshot together with the fingerprint
// of the mapper's options.
func (m *Mapper) SaveFile(path string) error {
	return m.Snapshot().save(path, m.fingerprint)
}

// LoadFile publishes the package pool and lookup cache stored at path. The
// mapper's own alias tables stay authoritative; cached lookups are kept
// only when the file was written with the same tables and options.
func (m *Mapper) LoadFile(path string) error {
	loaded, options, err := loadSnapshot(path)
	if err != nil {
		return err
	}
	cur := m.Snapshot()
	next := *loaded
	next.aliases, next.virtuals = cur.aliases, cur.virtuals
	switch {
	case !reflect.DeepEqual(loaded.aliases, cur.aliases) || !reflect.DeepEqual(loaded.virtuals, cur.virtuals):
		logger.Logger().Infof("Mapping tables changed since %s was written; discarding %d cached lookups", path, len(loaded.learned))
		next.learned = make(map[string][]Match)
	case options != m.fingerprint:
		logger.Logger().Infof("Mapper options changed since %s was written; discarding %d cached lookups", path, len(loaded.learned))
		next.learned = make(map[string][]Match)
	}
	published := m.Publish(&next)
	logger.Logger().Debugf("Loaded mapping snapshot %s as generation %d", path, published.generation)
	return nil
}
