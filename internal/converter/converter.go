// Package converter is the entry point for turning Debian archives into
// Arch packages.
package converter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	"github.com/open-edge-platform/deb2arch/internal/sandbox"
	"github.com/open-edge-platform/deb2arch/internal/scheduler"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

const DefaultInspectCacheSize = 128

type Options struct {
	Mapper    *mapper.Mapper
	Planner   *planner.Planner
	Builder   *sandbox.Builder // may be nil when only dry runs are made
	Scheduler *scheduler.Scheduler
	// Provider refreshes the mapper's package pool; nil disables refresh.
	Provider provider.Provider
	// SnapshotPath persists the mapping snapshot after each batch.
	SnapshotPath string
	// ReportDir receives the warning report; empty disables it.
	ReportDir string
	// MetricsFile receives the scheduler metrics in text exposition
	// format after each batch.
	MetricsFile string
	Gatherer    prometheus.Gatherer

	InspectCacheSize int
}

type Converter struct {
	opts    Options
	inspect *lru.Cache[inspectKey, *InspectView]
}

func New(opts Options) (*Converter, error) {
	if opts.Mapper == nil || opts.Planner == nil {
		return nil, fmt.Errorf("converter needs a mapper and a planner")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = scheduler.New(scheduler.Options{})
	}
	if opts.InspectCacheSize <= 0 {
		opts.InspectCacheSize = DefaultInspectCacheSize
	}
	cache, err := lru.New[inspectKey, *InspectView](opts.InspectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create inspect cache: %w", err)
	}
	return &Converter{opts: opts, inspect: cache}, nil
}

func (c *Converter) Mapper() *mapper.Mapper { return c.opts.Mapper }

// ConvertBatch converts the archives at paths into outDir. Job failures
// are reported in the results; the error covers batch-level problems only.
func (c *Converter) ConvertBatch(ctx context.Context, paths []string, outDir string, policy Policy) ([]scheduler.JobResult, error) {
	inputs := make([]scheduler.Input, len(paths))
	for i, p := range paths {
		inputs[i] = scheduler.Input{Name: p, Open: debutils.FileOpener(p)}
	}
	return c.Convert(ctx, inputs, outDir, policy)
}

// Convert is ConvertBatch for archives supplied as openers.
func (c *Converter) Convert(ctx context.Context, inputs []scheduler.Input, outDir string, policy Policy) ([]scheduler.JobResult, error) {
	log := logger.Logger()
	policy, err := ParsePolicy(string(policy))
	if err != nil {
		return nil, err
	}
	if policy != PolicyDryRun {
		if c.opts.Builder == nil {
			return nil, fmt.Errorf("policy %s needs a sandbox builder", policy)
		}
		if err := os.MkdirAll(outDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory %s: %w", outDir, err)
		}
	}
	log.Infof("Converting %d packages with policy %s", len(inputs), policy)
	results := c.opts.Scheduler.Run(ctx, inputs, c.pipeline(outDir, policy))

	c.writeReport(results)
	if c.opts.SnapshotPath != "" {
		if err := c.saveSnapshot(); err != nil {
			log.Warnf("Failed to persist mapping snapshot: %v", err)
		}
	}
	if c.opts.MetricsFile != "" && c.opts.Gatherer != nil {
		if err := prometheus.WriteToTextfile(c.opts.MetricsFile, c.opts.Gatherer); err != nil {
			log.Warnf("Failed to write metrics to %s: %v", c.opts.MetricsFile, err)
		}
	}
	return results, nil
}

// pipeline runs one job through extraction, resolution, planning and,
// unless dry-running, the sandbox build.
func (c *Converter) pipeline(outDir string, policy Policy) scheduler.Pipeline {
	return func(ctx context.Context, job *scheduler.Job, in scheduler.Input) (scheduler.Output, error) {
		var out scheduler.Output
		if err := job.Advance(scheduler.StateExtracting); err != nil {
			return out, err
		}
		src, err := parse(ctx, in.Open)
		if err != nil {
			return out, err
		}

		if err := job.Advance(scheduler.StateResolving); err != nil {
			return out, err
		}
		resolved, err := c.opts.Mapper.ResolvePackage(ctx, src)
		if err != nil {
			return out, err
		}
		out.Warnings = resolved.Warnings()
		if policy == PolicyStrict {
			if unresolved := resolved.Unresolved(); len(unresolved) > 0 {
				return out, &UnresolvedError{Package: src.Name, Warnings: unresolved}
			}
		}

		if err := job.Advance(scheduler.StatePlanning); err != nil {
			return out, err
		}
		plan, err := c.opts.Planner.Plan(src, resolved)
		if err != nil {
			return out, err
		}
		plan.Payload = in.Open
		out.Plan = plan
		logger.Logger().Debugf("Planned %s", plan.Summary())
		if policy == PolicyDryRun {
			return out, job.Advance(scheduler.StateDone)
		}

		if err := job.Advance(scheduler.StateBuilding); err != nil {
			return out, err
		}
		art, err := c.opts.Builder.Build(ctx, plan, outDir)
		if err != nil {
			return out, err
		}
		out.Artifact = art
		return out, job.Advance(scheduler.StateDone)
	}
}

func parse(ctx context.Context, open debutils.Opener) (*debutils.SourcePackage, error) {
	rc, err := open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer rc.Close()
	return debutils.ParseContext(ctx, bufio.NewReaderSize(rc, 256*1024))
}

// writeReport appends every job's mapping warnings to the report file.
func (c *Converter) writeReport(results []scheduler.JobResult) {
	if c.opts.ReportDir == "" {
		return
	}
	report := logger.NewStringListReport("conversion-warnings")
	for _, r := range results {
		for _, w := range r.Warnings {
			report.Add(fmt.Sprintf("%s: %s", filepath.Base(r.Name), w))
		}
		if r.Err != nil {
			report.Add(fmt.Sprintf("%s: failed while %s: %v", filepath.Base(r.Name), r.FailedAt, r.Err))
		}
	}
	if report.Len() == 0 {
		return
	}
	path, err := report.WriteToFile(c.opts.ReportDir)
	if err != nil {
		logger.Logger().Warnf("Failed to write conversion report: %v", err)
		return
	}
	logger.Logger().Infof("Conversion warnings written to %s", path)
}

// RefreshMapping reloads the package pool from the provider and persists
// the new snapshot.
func (c *Converter) RefreshMapping(ctx context.Context) error {
	if c.opts.Provider == nil {
		return fmt.Errorf("no package provider configured")
	}
	if err := c.opts.Mapper.Refresh(ctx, c.opts.Provider); err != nil {
		return err
	}
	if c.opts.SnapshotPath == "" {
		return nil
	}
	return c.saveSnapshot()
}

func (c *Converter) saveSnapshot() error {
	if err := os.MkdirAll(filepath.Dir(c.opts.SnapshotPath), 0755); err != nil {
		return err
	}
	return c.opts.Mapper.SaveFile(c.opts.SnapshotPath)
}
