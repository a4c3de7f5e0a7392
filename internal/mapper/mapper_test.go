package mapper

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/provider/static"
)

var testPool = []ospackage.PackageInfo{
	{Name: "glibc", Version: "2.39-1", Repository: "core"},
	{Name: "libfoo", Version: "1.4-1", Provides: []string{"libfoo2>=1.2"}},
	{Name: "libbar", Version: "1.0-1", Provides: []string{"libbar3=1.0"}},
	{Name: "python-frobnicate", Version: "2.31.0-1"},
	{Name: "foobarqux", Version: "1-1"},
	{Name: "zlib", Version: "1:1.3.1-2", Provides: []string{"libz.so=1-64"}},
}

func newTestMapper(t *testing.T) *Mapper {
	t.Helper()
	tables, err := DefaultTables()
	require.NoError(t, err)
	m, err := New(tables, Options{Arch: "amd64"})
	require.NoError(t, err)
	require.NoError(t, m.Refresh(context.Background(), static.New(testPool)))
	return m
}

func resolveField(t *testing.T, m *Mapper, kind debutils.RelationKind, field string) ResolvedSet {
	t.Helper()
	set, err := debutils.ParseRelations(field)
	require.NoError(t, err)
	rs, err := m.Resolve(context.Background(), kind, set)
	require.NoError(t, err)
	return rs
}

func TestResolveAlias(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "libc6 (>= 2.34), libc6:amd64")

	require.Len(t, rs.Resolutions, 2)
	best, ok := rs.Resolutions[0].Best()
	require.True(t, ok)
	assert.Equal(t, Candidate{Name: "glibc", Confidence: 1.0, Method: MethodAlias, Op: ">=", Version: "2.34"}, best)
	assert.Empty(t, rs.Warnings())

	// both entries collapse onto one dependency
	deps := rs.Dependencies()
	require.Len(t, deps, 1)
	assert.Equal(t, "glibc>=2.34", deps[0].String())
}

func TestResolveProvidesBeatsHeuristic(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "libfoo2 (>= 1.2)")

	best, ok := rs.Resolutions[0].Best()
	require.True(t, ok)
	assert.Equal(t, "libfoo", best.Name)
	assert.Equal(t, MethodProvides, best.Method)
	assert.Greater(t, best.Confidence, heuristicCeiling)
	assert.Equal(t, ">=", best.Op)
	assert.Equal(t, "1.2", best.Version)
	assert.Empty(t, rs.Warnings())
}

func TestResolveExactNameMatch(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "zlib (>= 1:1.2)")
	best, _ := rs.Resolutions[0].Best()
	assert.Equal(t, Candidate{Name: "zlib", Confidence: providesExact, Method: MethodProvides, Op: ">=", Version: "1:1.2"}, best)
}

func TestResolveProvideVersionMustSatisfy(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "libbar3 (>= 2.0)")
	r := rs.Resolutions[0]
	assert.False(t, r.Resolved())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, WarnUnresolved, r.Warnings[0].Kind)
}

func TestResolveHeuristicRuleDropsConstraint(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "python3-frobnicate (>= 2.0)")
	best, ok := rs.Resolutions[0].Best()
	require.True(t, ok)
	assert.Equal(t, "python-frobnicate", best.Name)
	assert.Equal(t, MethodHeuristic, best.Method)
	assert.LessOrEqual(t, best.Confidence, heuristicCeiling)
	assert.Empty(t, best.Op)

	warns := rs.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, WarnConstraintDropped, warns[0].Kind)
	assert.True(t, errors.Is(warns[0], ErrConstraintDropped))
}

func TestResolveFuzzyLowConfidence(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "foobarbaz")
	best, ok := rs.Resolutions[0].Best()
	require.True(t, ok)
	assert.Equal(t, "foobarqux", best.Name)
	assert.Less(t, best.Confidence, DefaultLowConfidence)

	warns := rs.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, WarnLowConfidence, warns[0].Kind)
	assert.Equal(t, "foobarqux", warns[0].Candidate)
}

func TestResolveUnresolved(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "qqqqqq-zzzz (>= 1)")
	warns := rs.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, WarnUnresolved, warns[0].Kind)
	assert.True(t, warns[0].Hard())
	assert.Contains(t, warns[0].String(), "qqqqqq-zzzz")
	assert.Empty(t, rs.Dependencies())

	resolved := Resolved{debutils.Depends: rs}
	assert.Len(t, resolved.Unresolved(), 1)
}

func TestResolveAlternativesAndArchRestrictions(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "qqqqqq-zzzz | libc6, libfoo2 [i386], awk (>= 1)")
	require.Len(t, rs.Resolutions, 3)

	best, _ := rs.Resolutions[0].Best()
	assert.Equal(t, "glibc", best.Name)
	assert.True(t, rs.Resolutions[1].NotApplicable)
	assert.True(t, rs.Resolutions[1].Resolved())

	awk := rs.Resolutions[2]
	require.Len(t, awk.Candidates, 3)
	assert.Equal(t, []string{"gawk", "mawk", "nawk"}, []string{awk.Candidates[0].Name, awk.Candidates[1].Name, awk.Candidates[2].Name})
	require.Len(t, awk.Warnings, 1)
	assert.Equal(t, WarnConstraintDropped, awk.Warnings[0].Kind)
}

func TestResolveSubstitutionVariable(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Depends, "${shlibs:Depends}")
	warns := rs.Warnings()
	require.Len(t, warns, 1)
	assert.Equal(t, WarnUnresolved, warns[0].Kind)
	assert.Contains(t, warns[0].Detail, "substitution variable")
}

func TestUnresolvedConflictIsSilent(t *testing.T) {
	m := newTestMapper(t)
	rs := resolveField(t, m, debutils.Conflicts, "qqqqqq-zzzz")
	assert.Empty(t, rs.Warnings())
	assert.Empty(t, rs.Dependencies())
}

func TestResolveIsDeterministicAndCached(t *testing.T) {
	m := newTestMapper(t)
	field := "libc6, libfoo2 (>= 1.2), foobarbaz, python3-frobnicate, qqqqqq-zzzz"
	first := resolveField(t, m, debutils.Depends, field)
	gen := m.Snapshot().Generation()

	_, cached := m.Snapshot().Learned("foobarbaz")
	assert.True(t, cached)

	second := resolveField(t, m, debutils.Depends, field)
	assert.Equal(t, first, second)
	assert.Equal(t, gen, m.Snapshot().Generation(), "cache hits must not publish")
}

func TestConcurrentResolve(t *testing.T) {
	m := newTestMapper(t)
	set, err := debutils.ParseRelations("libc6, libfoo2 (>= 1.2), foobarbaz, python3-frobnicate, zlib1g")
	require.NoError(t, err)

	want, err := m.Resolve(context.Background(), debutils.Depends, set)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]ResolvedSet, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%8 == 0 {
				_ = m.Refresh(context.Background(), static.New(testPool))
			}
			results[i], _ = m.Resolve(context.Background(), debutils.Depends, set)
		}(i)
	}
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, want, got)
	}
}

func TestResolveHonoursContext(t *testing.T) {
	m := newTestMapper(t)
	set, err := debutils.ParseRelations("libc6")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Resolve(ctx, debutils.Depends, set)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResolvePackage(t *testing.T) {
	m := newTestMapper(t)
	src := &debutils.SourcePackage{Name: "demo", Architecture: "all", Relations: map[debutils.RelationKind]debutils.ConstraintSet{}}
	for kind, field := range map[debutils.RelationKind]string{
		debutils.Depends:    "libc6",
		debutils.Recommends: "qqqqqq-zzzz",
		debutils.Provides:   "demo-virtual",
	} {
		set, err := debutils.ParseRelations(field)
		require.NoError(t, err)
		src.Relations[kind] = set
	}

	resolved, err := m.ResolvePackage(context.Background(), src)
	require.NoError(t, err)
	assert.Contains(t, resolved, debutils.Depends)
	assert.Contains(t, resolved, debutils.Recommends)
	assert.NotContains(t, resolved, debutils.Provides)

	warns := resolved.Warnings()
	require.Len(t, warns, 1)
	assert.False(t, warns[0].Hard())
	assert.Empty(t, resolved.Unresolved())
}

func TestRefreshClearsCache(t *testing.T) {
	m := newTestMapper(t)
	resolveField(t, m, debutils.Depends, "foobarbaz")
	_, cached := m.Snapshot().Learned("foobarbaz")
	require.True(t, cached)

	require.NoError(t, m.Refresh(context.Background(), static.New(nil)))
	assert.Zero(t, m.Snapshot().Stats().Learned)
	assert.Zero(t, m.Snapshot().Stats().Packages)

	rs := resolveField(t, m, debutils.Depends, "foobarbaz")
	assert.False(t, rs.Resolutions[0].Resolved())
}

func TestSnapshotSaveLoad(t *testing.T) {
	m := newTestMapper(t)
	resolveField(t, m, debutils.Depends, "libfoo2 (>= 1.2), foobarbaz")
	path := filepath.Join(t.TempDir(), "state", "mapping.yaml")
	require.NoError(t, m.SaveFile(path))

	loaded, err := LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot().Stats(), loaded.Stats())
	ms, ok := loaded.Learned("foobarbaz")
	require.True(t, ok)
	assert.Equal(t, MethodHeuristic, ms[0].Method)

	fresh := newTestMapper(t)
	require.NoError(t, fresh.Refresh(context.Background(), static.New(nil)))
	require.NoError(t, fresh.LoadFile(path))
	assert.Equal(t, len(testPool), fresh.Snapshot().Stats().Packages)
	assert.True(t, fresh.Snapshot().HasPackage("libfoo"))
	_, ok = fresh.Snapshot().Learned("foobarbaz")
	assert.True(t, ok)
}

func TestLoadFileDiscardsCacheWhenTablesDiffer(t *testing.T) {
	m := newTestMapper(t)
	resolveField(t, m, debutils.Depends, "foobarbaz")
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, m.SaveFile(path))

	other, err := New(&Tables{Aliases: []Alias{{Debian: "foobarbaz", Arch: "glibc"}}}, Options{})
	require.NoError(t, err)
	require.NoError(t, other.LoadFile(path))
	assert.Zero(t, other.Snapshot().Stats().Learned)

	rs := resolveField(t, other, debutils.Depends, "foobarbaz")
	best, _ := rs.Resolutions[0].Best()
	assert.Equal(t, MethodAlias, best.Method)
}

func TestLoadFileDiscardsCacheWhenOptionsDiffer(t *testing.T) {
	m := newTestMapper(t)
	resolveField(t, m, debutils.Depends, "foobarbaz")
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, m.SaveFile(path))

	tables, err := DefaultTables()
	require.NoError(t, err)
	for _, opts := range []Options{
		{Arch: "amd64", Threshold: 0.99},
		{Arch: "amd64", LowConfidence: 0.5},
		{Arch: "amd64", Rules: DefaultRules[:1]},
		{Arch: "arm64"},
	} {
		strict, err := New(tables, opts)
		require.NoError(t, err)
		require.NoError(t, strict.LoadFile(path))
		assert.Zero(t, strict.Snapshot().Stats().Learned, "options %+v", opts)
		assert.True(t, strict.Snapshot().HasPackage("foobarqux"))
	}

	strict, err := New(tables, Options{Arch: "amd64", Threshold: 0.99})
	require.NoError(t, err)
	require.NoError(t, strict.LoadFile(path))
	rs := resolveField(t, strict, debutils.Depends, "foobarbaz")
	assert.False(t, rs.Resolutions[0].Resolved())
}

func TestLoadSnapshotRejectsOtherSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, writeFile(path, "schema: 99\ngeneration: 1\n"))
	_, err := LoadSnapshot(path)
	assert.Error(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(nil, Options{Threshold: 2})
	assert.Error(t, err)
	_, err = New(nil, Options{Rules: []Rule{{Name: "bad", Pattern: "(", Replacement: "x", Confidence: 0.5}}})
	assert.Error(t, err)
}
