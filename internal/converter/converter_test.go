package converter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-edge-platform/deb2arch/internal/analyzer"
	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils/debtest"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/provider/static"
	"github.com/open-edge-platform/deb2arch/internal/sandbox"
	"github.com/open-edge-platform/deb2arch/internal/scheduler"
)

var testPool = []ospackage.PackageInfo{
	{Name: "glibc", Version: "2.39-1"},
	{Name: "zlib", Version: "1:1.3.1-2"},
}

func frobDeb(t *testing.T, name string, depends string) []byte {
	t.Helper()
	var extra []string
	if depends != "" {
		extra = append(extra, "Depends: "+depends)
	}
	return debtest.Build(t, debtest.Deb{
		Control: debtest.Control(name, "1.0-1", "amd64", extra...),
		Files: []debtest.File{
			{Path: "./usr/", Mode: 0755},
			{Path: "./usr/bin/", Mode: 0755},
			{Path: "./usr/bin/" + name, Body: "#!/bin/sh\nexit 0\n", Mode: 0755},
		},
	})
}

type fixture struct {
	conv     *Converter
	out      string
	snapshot string
	reports  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	t.Setenv("SOURCE_DATE_EPOCH", "1700000000")
	dir := t.TempDir()
	tables, err := mapper.DefaultTables()
	require.NoError(t, err)
	m, err := mapper.New(tables, mapper.Options{})
	require.NoError(t, err)
	prov := static.New(testPool)
	require.NoError(t, m.Refresh(context.Background(), prov))

	pl, err := planner.New(planner.Options{})
	require.NoError(t, err)
	b, err := sandbox.NewBuilder(sandbox.Options{WorkDir: filepath.Join(dir, "work"), CompressionLevel: 3, Overwrite: true})
	require.NoError(t, err)

	f := &fixture{
		out:      filepath.Join(dir, "out"),
		snapshot: filepath.Join(dir, "cache", "snapshot.yaml"),
		reports:  filepath.Join(dir, "reports"),
	}
	f.conv, err = New(Options{
		Mapper:       m,
		Planner:      pl,
		Builder:      b,
		Scheduler:    scheduler.New(scheduler.Options{Workers: 2}),
		Provider:     prov,
		SnapshotPath: f.snapshot,
		ReportDir:    f.reports,
	})
	require.NoError(t, err)
	return f
}

func input(name string, data []byte) scheduler.Input {
	return scheduler.Input{Name: name, Open: debutils.BytesOpener(data)}
}

func TestStrictPolicyFailsOnUnresolved(t *testing.T) {
	f := newFixture(t)
	data := frobDeb(t, "frob", "qqqqqq-zzzz")

	results, err := f.conv.Convert(context.Background(), []scheduler.Input{input("frob.deb", data)}, f.out, PolicyStrict)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, scheduler.StateFailed, r.State)
	assert.Equal(t, scheduler.StateResolving, r.FailedAt)
	var ue *UnresolvedError
	require.ErrorAs(t, r.Err, &ue)
	assert.Equal(t, "frob", ue.Package)
	assert.ErrorIs(t, r.Err, mapper.ErrUnresolved)
	assert.Nil(t, r.Artifact)

	entries, _ := os.ReadDir(f.out)
	assert.Empty(t, entries)
}

func TestPermissivePolicyAttachesOneWarning(t *testing.T) {
	f := newFixture(t)
	data := frobDeb(t, "frob", "qqqqqq-zzzz")

	results, err := f.conv.Convert(context.Background(), []scheduler.Input{input("frob.deb", data)}, f.out, PolicyPermissive)
	require.NoError(t, err)
	r := results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, scheduler.StateDone, r.State)
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, mapper.WarnUnresolved, r.Warnings[0].Kind)
	assert.Equal(t, "qqqqqq-zzzz", r.Warnings[0].Relation)

	require.NotNil(t, r.Artifact)
	assert.FileExists(t, r.Artifact.Path)
	assert.Equal(t, "frob-1.0-1-x86_64.pkg.tar.zst", r.Artifact.Name)
	assert.Equal(t, r.Warnings, r.Plan.Warnings)

	report, err := os.ReadFile(filepath.Join(f.reports, "report-conversion-warnings.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "qqqqqq-zzzz")
}

func TestDryRunSkipsSandbox(t *testing.T) {
	f := newFixture(t)
	results, err := f.conv.Convert(context.Background(), []scheduler.Input{input("frob.deb", frobDeb(t, "frob", "libc6"))}, f.out, PolicyDryRun)
	require.NoError(t, err)
	r := results[0]
	require.NoError(t, r.Err)
	assert.Equal(t, scheduler.StateDone, r.State)
	require.NotNil(t, r.Plan)
	assert.Nil(t, r.Artifact)
	assert.NoDirExists(t, f.out)

	var states []scheduler.State
	for _, tr := range r.History {
		states = append(states, tr.To)
	}
	assert.Equal(t, []scheduler.State{scheduler.StateExtracting, scheduler.StateResolving, scheduler.StatePlanning, scheduler.StateDone}, states)
	require.Len(t, r.Plan.Target.Depends, 1)
	assert.Equal(t, "glibc", r.Plan.Target.Depends[0].Name)
}

func TestConvertNormalisesPolicySpelling(t *testing.T) {
	f := newFixture(t)

	results, err := f.conv.Convert(context.Background(), []scheduler.Input{input("frob.deb", frobDeb(t, "frob", "qqqqqq-zzzz"))}, f.out, Policy("STRICT"))
	require.NoError(t, err)
	assert.Equal(t, scheduler.StateFailed, results[0].State)
	assert.Equal(t, scheduler.StateResolving, results[0].FailedAt)
	assert.ErrorIs(t, results[0].Err, mapper.ErrUnresolved)

	results, err = f.conv.Convert(context.Background(), []scheduler.Input{input("frob.deb", frobDeb(t, "frob", "libc6"))}, f.out, Policy("Dry-Run"))
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Equal(t, scheduler.StateDone, results[0].State)
	assert.Nil(t, results[0].Artifact)
	entries, _ := os.ReadDir(f.out)
	assert.Empty(t, entries)
}

func TestConvertIsIdempotent(t *testing.T) {
	f := newFixture(t)
	data := frobDeb(t, "frob", "libc6 (>= 2.34), zlib1g")
	in := []scheduler.Input{input("frob.deb", data)}

	first, err := f.conv.Convert(context.Background(), in, f.out, PolicyDryRun)
	require.NoError(t, err)
	second, err := f.conv.Convert(context.Background(), in, f.out, PolicyDryRun)
	require.NoError(t, err)
	assert.Equal(t, first[0].Plan.Target, second[0].Plan.Target)
	assert.Equal(t, first[0].Plan.Files, second[0].Plan.Files)
	assert.Equal(t, first[0].Warnings, second[0].Warnings)
}

func TestConvertBatchPreservesOrder(t *testing.T) {
	f := newFixture(t)
	dir := t.TempDir()
	names := []string{"alpha", "broken", "gamma", "delta"}
	var paths []string
	for _, n := range names {
		p := filepath.Join(dir, n+".deb")
		data := []byte("this is not an archive")
		if n != "broken" {
			data = frobDeb(t, n, "")
		}
		require.NoError(t, os.WriteFile(p, data, 0644))
		paths = append(paths, p)
	}

	results, err := f.conv.ConvertBatch(context.Background(), paths, f.out, PolicyPermissive)
	require.NoError(t, err)
	require.Len(t, results, len(paths))
	for i, r := range results {
		assert.Equal(t, paths[i], r.Name)
		assert.Equal(t, i, r.Index)
	}
	assert.Equal(t, scheduler.StateFailed, results[1].State)
	assert.Equal(t, scheduler.StateExtracting, results[1].FailedAt)
	var ae *debutils.ArchiveError
	assert.ErrorAs(t, results[1].Err, &ae)
	for _, i := range []int{0, 2, 3} {
		require.True(t, results[i].OK(), "job %d: %v", i, results[i].Err)
		assert.Equal(t, names[i]+"-1.0-1-x86_64.pkg.tar.zst", results[i].Artifact.Name)
	}
	assert.FileExists(t, f.snapshot)
}

func TestConvertRejectsUnknownPolicy(t *testing.T) {
	f := newFixture(t)
	_, err := f.conv.Convert(context.Background(), nil, f.out, Policy("yolo"))
	assert.Error(t, err)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"strict": PolicyStrict, "Permissive": PolicyPermissive, "dry-run": PolicyDryRun, "dry_run": PolicyDryRun} {
		got, err := ParsePolicy(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("lenient")
	assert.Error(t, err)
}

func TestInspectCachesByPathSizeAndMtime(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(t.TempDir(), "frob.deb")
	require.NoError(t, os.WriteFile(p, frobDeb(t, "frob", ""), 0644))

	first, err := f.conv.Inspect(p)
	require.NoError(t, err)
	assert.Equal(t, "frob", first.Package.Name)
	again, err := f.conv.Inspect(p)
	require.NoError(t, err)
	assert.Same(t, first, again)

	require.NoError(t, os.WriteFile(p, frobDeb(t, "frobnicator", "libc6"), 0644))
	changed, err := f.conv.Inspect(p)
	require.NoError(t, err)
	assert.NotSame(t, first, changed)
	assert.Equal(t, "frobnicator", changed.Package.Name)

	_, err = f.conv.Inspect(filepath.Join(t.TempDir(), "missing.deb"))
	assert.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	f := newFixture(t)
	p := filepath.Join(t.TempDir(), "frob.deb")
	require.NoError(t, os.WriteFile(p, frobDeb(t, "frob", "libc6, debconf, qqqqqq-zzzz"), 0644))

	report, err := f.conv.Analyze(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "frob", report.Package)
	assert.Equal(t, 3, report.DependencyCount)
	assert.Contains(t, report.Unmapped, "qqqqqq-zzzz")
	assert.NotEmpty(t, report.ByCategory(analyzer.CategoryDependency))
}

func TestRefreshMapping(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.conv.RefreshMapping(context.Background()))
	assert.FileExists(t, f.snapshot)

	bare, err := New(Options{Mapper: f.conv.Mapper(), Planner: f.conv.opts.Planner})
	require.NoError(t, err)
	assert.Error(t, bare.RefreshMapping(context.Background()))
	_, err = bare.Convert(context.Background(), nil, t.TempDir(), PolicyPermissive)
	assert.Error(t, err, "building without a sandbox")
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	pool := filepath.Join(dir, "pool.yaml")
	require.NoError(t, os.WriteFile(pool, []byte("packages:\n  - name: glibc\n    version: 2.39-1\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.WorkDir = filepath.Join(dir, "work")
	cfg.ReportDir = filepath.Join(dir, "reports")
	cfg.MetricsFile = filepath.Join(dir, "metrics.prom")
	cfg.Workers = 1
	cfg.Builder.CompressionLevel = 3
	cfg.Provider.Type = "static"
	cfg.Provider.File = pool

	conv, err := FromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.True(t, conv.Mapper().Snapshot().HasPackage("glibc"))
	assert.DirExists(t, cfg.WorkDir)
	assert.DirExists(t, cfg.CacheDir)

	results, err := conv.Convert(context.Background(), []scheduler.Input{input("frob.deb", frobDeb(t, "frob", "libc6"))}, filepath.Join(dir, "out"), PolicyStrict)
	require.NoError(t, err)
	require.True(t, results[0].OK(), "%v", results[0].Err)

	f, err := os.Open(results[0].Artifact.Path)
	require.NoError(t, err)
	defer f.Close()
	pc, err := archutils.ReadPackage(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"glibc"}, pc.PkgInfo.Depends)

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `deb2arch_scheduler_jobs_total{state="done"} 1`)
	assert.FileExists(t, filepath.Join(cfg.CacheDir, config.DefaultSnapshotFile))
}
