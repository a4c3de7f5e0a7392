package mapper

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

const (
	DefaultThreshold     = 0.6
	DefaultLowConfidence = 0.7

	// heuristicCeiling keeps every heuristic match below the provides tier.
	heuristicCeiling = 0.85
	providesExact    = 0.95
	providesOther    = 0.9
	virtualStep      = 0.05
	maxFuzzy         = 3
)

// Options tune the resolution heuristics.
type Options struct {
	// Threshold is the minimum fuzzy similarity for a heuristic match.
	Threshold float64
	// LowConfidence flags best candidates scoring below it.
	LowConfidence float64
	// Arch is the Debian architecture used to evaluate "[arch]"
	// restrictions when a package is arch-independent.
	Arch string
	// Rules replace DefaultRules when non-empty.
	Rules []Rule
}

// Mapper resolves Debian relation fields to Arch package names.
type Mapper struct {
	store       *Store
	opts        Options
	rules       []compiledRule
	fingerprint string
	sf          singleflight.Group
}

// New builds a mapper over tables with an empty package pool.
func New(tables *Tables, opts Options) (*Mapper, error) {
	if opts.Threshold == 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.LowConfidence == 0 {
		opts.LowConfidence = DefaultLowConfidence
	}
	if opts.Threshold < 0 || opts.Threshold > 1 || opts.LowConfidence < 0 || opts.LowConfidence > 1 {
		return nil, fmt.Errorf("mapper thresholds must be within [0, 1]")
	}
	if opts.Arch == "" {
		opts.Arch = "amd64"
	}
	ruleSet := opts.Rules
	if len(ruleSet) == 0 {
		ruleSet = DefaultRules
	}
	rules, err := compileRules(ruleSet)
	if err != nil {
		return nil, err
	}
	fp, err := optionsFingerprint(opts, ruleSet)
	if err != nil {
		return nil, err
	}
	return &Mapper{store: NewStore(NewSnapshot(tables, nil)), opts: opts, rules: rules, fingerprint: fp}, nil
}

// Snapshot returns the currently published snapshot.
func (m *Mapper) Snapshot() *Snapshot { return m.store.Load() }

// Publish replaces the current snapshot, e.g. with one loaded from disk.
func (m *Mapper) Publish(s *Snapshot) *Snapshot {
	return m.store.Update(func(cur *Snapshot) *Snapshot {
		next := *s
		next.pool = cur.pool + 1
		return &next
	})
}

// Refresh rebuilds the package pool and provides index from p and
// publishes a new generation with an empty lookup cache.
func (m *Mapper) Refresh(ctx context.Context, p provider.Provider) error {
	log := logger.Logger()
	pkgs, err := p.Packages(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh package pool from %s: %w", p.Name(), err)
	}
	next := m.store.Update(func(cur *Snapshot) *Snapshot { return cur.withPackages(pkgs) })
	log.Infof("Mapping snapshot generation %d: %d packages from %s", next.generation, len(next.packages), p.Name())
	return nil
}

// Lookup returns the ranked, constraint-free matches for one name.
func (m *Mapper) Lookup(ctx context.Context, name string) ([]Match, error) {
	snap := m.store.Load()
	ms, fresh := m.lookup(snap, name)
	if fresh {
		m.learn(snap, map[string][]Match{Normalize(name): ms})
	}
	return ms, ctx.Err()
}

// Resolve maps every entry of set, evaluating architecture restrictions
// against the configured architecture.
func (m *Mapper) Resolve(ctx context.Context, kind debutils.RelationKind, set debutils.ConstraintSet) (ResolvedSet, error) {
	return m.resolve(ctx, m.store.Load(), kind, set, m.opts.Arch, make(map[string][]Match))
}

// mappedKinds are the relation fields translated to Arch names. Provides
// and Enhances keep Debian semantics and are handled by the planner.
var mappedKinds = []debutils.RelationKind{
	debutils.PreDepends, debutils.Depends, debutils.Recommends, debutils.Suggests,
	debutils.Breaks, debutils.Conflicts, debutils.Replaces,
}

// ResolvePackage resolves every mapped relation field of src against one
// snapshot and publishes the lookups it had to compute.
func (m *Mapper) ResolvePackage(ctx context.Context, src *debutils.SourcePackage) (Resolved, error) {
	arch := src.Architecture
	if arch == "" || arch == "all" {
		arch = m.opts.Arch
	}
	snap := m.store.Load()
	fresh := make(map[string][]Match)
	out := make(Resolved)
	for _, kind := range mappedKinds {
		set := src.Relation(kind)
		if len(set) == 0 {
			continue
		}
		rs, err := m.resolveWith(ctx, snap, kind, set, arch, fresh)
		if err != nil {
			return nil, err
		}
		out[kind] = rs
	}
	m.learn(snap, fresh)
	return out, nil
}

func (m *Mapper) resolve(ctx context.Context, snap *Snapshot, kind debutils.RelationKind, set debutils.ConstraintSet, arch string, fresh map[string][]Match) (ResolvedSet, error) {
	rs, err := m.resolveWith(ctx, snap, kind, set, arch, fresh)
	if err != nil {
		return ResolvedSet{}, err
	}
	m.learn(snap, fresh)
	return rs, nil
}

func (m *Mapper) resolveWith(ctx context.Context, snap *Snapshot, kind debutils.RelationKind, set debutils.ConstraintSet, arch string, fresh map[string][]Match) (ResolvedSet, error) {
	rs := ResolvedSet{Kind: kind, Resolutions: make([]Resolution, 0, len(set))}
	for _, entry := range set {
		if err := ctx.Err(); err != nil {
			return ResolvedSet{}, err
		}
		rs.Resolutions = append(rs.Resolutions, m.resolveEntry(snap, kind, entry, arch, fresh))
	}
	return rs, nil
}

func (m *Mapper) resolveEntry(snap *Snapshot, kind debutils.RelationKind, entry debutils.Entry, arch string, fresh map[string][]Match) Resolution {
	res := Resolution{Entry: entry}
	applicable := 0
	detail := ""
	for _, alt := range entry.Alternatives {
		if !alt.AppliesTo(arch) {
			continue
		}
		applicable++
		if strings.HasPrefix(alt.Name, "${") {
			detail = "substitution variable " + alt.Name
			continue
		}
		key := Normalize(alt.Name)
		ms, ok := fresh[key]
		if !ok {
			var computed bool
			ms, computed = m.lookup(snap, alt.Name)
			if computed {
				fresh[key] = ms
			}
		}
		cands, warns := m.constrain(kind, entry, alt, ms)
		if len(cands) == 0 {
			continue
		}
		res.Candidates, res.Warnings = cands, warns
		break
	}

	if applicable == 0 {
		res.NotApplicable = true
		return res
	}
	if len(res.Candidates) == 0 {
		// an unknown conflict or replacement has nothing to act on
		if positive(kind) {
			res.Warnings = append(res.Warnings, Warning{Kind: WarnUnresolved, Field: kind, Relation: entry.String(), Detail: detail})
		}
		return res
	}
	if best := res.Candidates[0]; best.Confidence < m.opts.LowConfidence {
		res.Warnings = append(res.Warnings, Warning{
			Kind: WarnLowConfidence, Field: kind, Relation: entry.String(),
			Candidate: best.Name, Confidence: best.Confidence,
			Detail: "matched by " + best.Method.String(),
		})
	}
	return res
}

func positive(kind debutils.RelationKind) bool {
	switch kind {
	case debutils.Depends, debutils.PreDepends, debutils.Recommends, debutils.Suggests:
		return true
	}
	return false
}

var opMap = map[debutils.Operator]string{
	debutils.OpLT: "<",
	debutils.OpLE: "<=",
	debutils.OpEQ: "=",
	debutils.OpGE: ">=",
	debutils.OpGT: ">",
}

// constrain attaches the alternative's version constraint to each match.
// Provides whose version fails the constraint are dropped; constraints that
// cannot be carried over leave an unconstrained candidate and a warning.
func (m *Mapper) constrain(kind debutils.RelationKind, entry debutils.Entry, alt debutils.Relation, ms []Match) ([]Candidate, []Warning) {
	var (
		cands   []Candidate
		dropped string
	)
	for _, mt := range ms {
		c := Candidate{Name: mt.Name, Confidence: mt.Confidence, Method: mt.Method}
		if alt.Constraint == nil {
			cands = append(cands, c)
			continue
		}
		switch {
		case mt.Virtual:
			dropped = "constraint on a virtual package"
		case mt.Method == MethodHeuristic:
			dropped = "constraint on a heuristic match"
		default:
			if mt.Method == MethodProvides && mt.Provided != "" {
				ok, err := alt.Constraint.Satisfied(mt.Provided)
				if err == nil && !ok {
					continue
				}
			}
			ver, err := archutils.ConstraintVersion(alt.Constraint.Version)
			if err != nil {
				dropped = fmt.Sprintf("untranslatable version %q", alt.Constraint.Version)
				break
			}
			c.Op, c.Version = opMap[alt.Constraint.Op], ver
		}
		cands = append(cands, c)
	}
	if len(cands) == 0 || dropped == "" {
		return cands, nil
	}
	return cands, []Warning{{
		Kind: WarnConstraintDropped, Field: kind, Relation: entry.String(),
		Candidate: cands[0].Name, Confidence: cands[0].Confidence, Detail: dropped,
	}}
}

// lookup returns the cached matches for name or computes them. computed
// reports whether the result is new to snap.
func (m *Mapper) lookup(snap *Snapshot, name string) (ms []Match, computed bool) {
	key := Normalize(name)
	if ms, ok := snap.learned[key]; ok {
		return ms, false
	}
	v, _, _ := m.sf.Do(strconv.FormatUint(snap.generation, 10)+"/"+key, func() (interface{}, error) {
		return m.compute(snap, key), nil
	})
	return v.([]Match), true
}

// compute runs the tiers in trust order; the first tier with a hit wins.
func (m *Mapper) compute(snap *Snapshot, key string) []Match {
	log := logger.Logger()
	var ms []Match

	if a, ok := snap.aliases[key]; ok {
		ms = append(ms, Match{Name: a.Arch, Confidence: a.confidence(), Method: MethodAlias})
	} else if providers, ok := snap.virtuals[key]; ok {
		for i, p := range providers {
			ms = append(ms, Match{Name: p, Confidence: 1.0 - virtualStep*float64(i), Method: MethodAlias, Virtual: true})
		}
	}
	if len(ms) == 0 {
		ms = m.providesMatches(snap, key)
	}
	if len(ms) == 0 {
		ms = m.heuristicMatches(snap, key)
	}
	sortMatches(ms)
	if len(ms) == 0 {
		log.Debugf("No Arch candidate for %s", key)
	} else {
		log.Debugf("Mapped %s -> %s (%s, %.2f)", key, ms[0].Name, ms[0].Method, ms[0].Confidence)
	}
	return ms
}

func (m *Mapper) providesMatches(snap *Snapshot, key string) []Match {
	var ms []Match
	seen := make(map[string]bool)
	if p, ok := snap.packages[key]; ok {
		ms = append(ms, Match{Name: p.Name, Confidence: providesExact, Method: MethodProvides, Provided: p.Version})
		seen[p.Name] = true
	}
	for _, ref := range snap.provides[key] {
		if seen[ref.Package] {
			continue
		}
		seen[ref.Package] = true
		ms = append(ms, Match{Name: ref.Package, Confidence: providesOther, Method: MethodProvides, Provided: ref.Version})
	}
	return ms
}

func (m *Mapper) heuristicMatches(snap *Snapshot, key string) []Match {
	if len(snap.names) == 0 {
		return nil
	}
	var ms []Match
	seen := make(map[string]bool)
	for _, r := range m.rules {
		target, ok := r.apply(key)
		if !ok || seen[target] || !snap.HasPackage(target) {
			continue
		}
		seen[target] = true
		ms = append(ms, Match{Name: target, Confidence: min(r.Confidence, heuristicCeiling), Method: MethodHeuristic})
	}
	if len(ms) > 0 {
		return ms
	}

	type scored struct {
		name  string
		score float64
		raw   float64
	}
	var best []scored
	for _, name := range snap.names {
		s := similarity(key, name)
		if s < m.opts.Threshold {
			continue
		}
		best = append(best, scored{name: name, score: s, raw: smetricsRaw(key, name)})
	}
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].score != best[j].score {
			return best[i].score > best[j].score
		}
		if best[i].raw != best[j].raw {
			return best[i].raw > best[j].raw
		}
		return best[i].name < best[j].name
	})
	if len(best) > maxFuzzy {
		best = best[:maxFuzzy]
	}
	for _, b := range best {
		ms = append(ms, Match{Name: b.name, Confidence: b.score * heuristicCeiling, Method: MethodHeuristic})
	}
	return ms
}

// learn publishes lookups computed against snap, unless the package pool
// changed in the meantime.
func (m *Mapper) learn(snap *Snapshot, fresh map[string][]Match) {
	if len(fresh) == 0 {
		return
	}
	m.store.Update(func(cur *Snapshot) *Snapshot {
		if cur.pool != snap.pool {
			return nil
		}
		extra := make(map[string][]Match, len(fresh))
		for k, v := range fresh {
			if _, ok := cur.learned[k]; !ok {
				extra[k] = v
			}
		}
		if len(extra) == 0 {
			return nil
		}
		return cur.withLearned(extra)
	})
}
