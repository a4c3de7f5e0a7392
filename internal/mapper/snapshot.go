package mapper

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
)

type providerRef struct {
	Package string
	Version string
}

// Snapshot is an immutable view of the mapping table. Readers share it
// without locking; changes publish a new Snapshot through a Store.
type Snapshot struct {
	generation uint64
	// pool identifies the package set learned entries were computed against.
	pool uint64

	aliases  map[string]Alias
	virtuals map[string][]string
	packages map[string]ospackage.PackageInfo
	names    []string // sorted keys of packages
	provides map[string][]providerRef
	learned  map[string][]Match
}

// NewSnapshot indexes tables and an optional package pool.
func NewSnapshot(t *Tables, pkgs []ospackage.PackageInfo) *Snapshot {
	s := &Snapshot{
		aliases:  make(map[string]Alias),
		virtuals: make(map[string][]string),
		learned:  make(map[string][]Match),
	}
	if t != nil {
		for _, a := range t.Aliases {
			s.aliases[Normalize(a.Debian)] = a
		}
		for k, v := range t.Virtuals {
			s.virtuals[Normalize(k)] = v
		}
	}
	s.indexPackages(pkgs)
	return s
}

func (s *Snapshot) indexPackages(pkgs []ospackage.PackageInfo) {
	s.packages = make(map[string]ospackage.PackageInfo, len(pkgs))
	s.provides = make(map[string][]providerRef)
	for _, p := range pkgs {
		if _, dup := s.packages[p.Name]; dup {
			// first repository wins, as in pacman
			continue
		}
		s.packages[p.Name] = p
		for _, pr := range p.ParsedProvides() {
			s.provides[pr.Name] = append(s.provides[pr.Name], providerRef{Package: p.Name, Version: pr.Version})
		}
	}
	s.names = make([]string, 0, len(s.packages))
	for n := range s.packages {
		s.names = append(s.names, n)
	}
	sort.Strings(s.names)
	for _, refs := range s.provides {
		sort.Slice(refs, func(i, j int) bool { return refs[i].Package < refs[j].Package })
	}
}

func (s *Snapshot) Generation() uint64 { return s.generation }

// Stats summarises the table sizes.
type Stats struct {
	Generation uint64 `json:"generation"`
	Aliases    int    `json:"aliases"`
	Virtuals   int    `json:"virtuals"`
	Packages   int    `json:"packages"`
	Provides   int    `json:"provides"`
	Learned    int    `json:"learned"`
}

func (s *Snapshot) Stats() Stats {
	return Stats{
		Generation: s.generation,
		Aliases:    len(s.aliases),
		Virtuals:   len(s.virtuals),
		Packages:   len(s.packages),
		Provides:   len(s.provides),
		Learned:    len(s.learned),
	}
}

// Learned returns the cached lookup for a normalised name.
func (s *Snapshot) Learned(name string) ([]Match, bool) {
	ms, ok := s.learned[Normalize(name)]
	return ms, ok
}

// LearnedNames lists cached names in sorted order.
func (s *Snapshot) LearnedNames() []string {
	out := make([]string, 0, len(s.learned))
	for n := range s.learned {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// HasPackage reports whether name is in the package pool.
func (s *Snapshot) HasPackage(name string) bool {
	_, ok := s.packages[name]
	return ok
}

// withLearned returns a copy of s with extra cache entries. Index maps are
// shared since they are never written after construction.
func (s *Snapshot) withLearned(extra map[string][]Match) *Snapshot {
	next := *s
	next.learned = make(map[string][]Match, len(s.learned)+len(extra))
	for k, v := range s.learned {
		next.learned[k] = v
	}
	for k, v := range extra {
		next.learned[k] = v
	}
	return &next
}

// withPackages returns a copy of s over a new pool with an empty cache.
func (s *Snapshot) withPackages(pkgs []ospackage.PackageInfo) *Snapshot {
	next := *s
	next.indexPackages(pkgs)
	next.learned = make(map[string][]Match)
	next.pool = s.pool + 1
	return &next
}

// Normalize folds a Debian name for lookups: lowercase, no ":arch" qualifier.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if i := strings.IndexByte(name, ':'); i > 0 {
		name = name[:i]
	}
	return name
}

// Store publishes snapshots. Load never blocks; writers are serialised by a
// mutex held only while the next snapshot is derived and swapped in.
type Store struct {
	cur atomic.Pointer[Snapshot]
	mu  sync.Mutex
}

func NewStore(s *Snapshot) *Store {
	st := &Store{}
	st.cur.Store(s)
	return st
}

func (st *Store) Load() *Snapshot { return st.cur.Load() }

// Update derives the next snapshot from the current one and publishes it
// with the following generation number. fn must not modify its argument;
// returning nil leaves the current snapshot in place.
func (st *Store) Update(fn func(cur *Snapshot) *Snapshot) *Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	cur := st.cur.Load()
	next := fn(cur)
	if next == nil {
		return cur
	}
	next.generation = cur.generation + 1
	st.cur.Store(next)
	return next
}
