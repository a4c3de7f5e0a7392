package converter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/open-edge-platform/deb2arch/internal/config"
	"github.com/open-edge-platform/deb2arch/internal/mapper"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/provider"
	_ "github.com/open-edge-platform/deb2arch/internal/provider/archrepo"
	_ "github.com/open-edge-platform/deb2arch/internal/provider/aur"
	_ "github.com/open-edge-platform/deb2arch/internal/provider/pacman"
	_ "github.com/open-edge-platform/deb2arch/internal/provider/static"
	"github.com/open-edge-platform/deb2arch/internal/sandbox"
	"github.com/open-edge-platform/deb2arch/internal/scheduler"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

// FromConfig wires a Converter from cfg: mapping tables, the persisted
// snapshot, the package provider, planner, sandbox and scheduler.
func FromConfig(ctx context.Context, cfg *config.GlobalConfig) (*Converter, error) {
	log := logger.Logger()
	helpers := config.NewConfigHelpers(cfg)

	m, err := newMapper(cfg)
	if err != nil {
		return nil, err
	}

	snapshotPath, err := helpers.SnapshotPath()
	if err != nil {
		return nil, fmt.Errorf("resolving snapshot path: %w", err)
	}
	loaded := false
	if snapshotPath != "" {
		if _, err := helpers.CreateCacheDir(); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
		switch err := m.LoadFile(snapshotPath); {
		case err == nil:
			loaded = true
		case errors.Is(err, fs.ErrNotExist):
			log.Debugf("No mapping snapshot at %s yet", snapshotPath)
		default:
			log.Warnf("Ignoring mapping snapshot %s: %v", snapshotPath, err)
		}
	}

	prov, err := provider.New(cfg.ResolveProvider(ctx))
	if err != nil {
		return nil, err
	}
	if prov != nil && !loaded {
		if err := m.Refresh(ctx, prov); err != nil {
			log.Warnf("Package pool unavailable, mapping from tables only: %v", err)
		}
	}

	pl, err := planner.New(planner.Options{
		PathRules: cfg.Planner.PathRules,
		Hooks:     cfg.Planner.Hooks,
		Packager:  cfg.Planner.Packager,
	})
	if err != nil {
		return nil, err
	}

	builder, err := newBuilder(cfg, helpers)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	sched := scheduler.New(scheduler.Options{
		Workers:    cfg.Workers,
		Timeout:    cfg.JobTimeout,
		Progress:   cfg.Progress,
		Registerer: reg,
	})

	return New(Options{
		Mapper:       m,
		Planner:      pl,
		Builder:      builder,
		Scheduler:    sched,
		Provider:     prov,
		SnapshotPath: snapshotPath,
		ReportDir:    helpers.ReportDir(),
		MetricsFile:  cfg.MetricsFile,
		Gatherer:     reg,
	})
}

func newMapper(cfg *config.GlobalConfig) (*mapper.Mapper, error) {
	tables, err := mapper.DefaultTables()
	if err != nil {
		return nil, err
	}
	if cfg.Mapper.TablesFile != "" {
		extra, err := config.LoadMappingTables(cfg.Mapper.TablesFile)
		if err != nil {
			return nil, err
		}
		tables = tables.Merge(extra)
	}
	return mapper.New(tables, mapper.Options{
		Threshold:     cfg.Mapper.Threshold,
		LowConfidence: cfg.Mapper.LowConfidence,
		Arch:          cfg.Mapper.Arch,
		Rules:         cfg.Mapper.Rules,
	})
}

func newBuilder(cfg *config.GlobalConfig, helpers *config.ConfigHelpers) (*sandbox.Builder, error) {
	workDir, err := helpers.CreateWorkDir()
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	identity := sandbox.CurrentIdentity()
	if cfg.Builder.BuildUser != nil {
		identity = *cfg.Builder.BuildUser
	}
	var signer *sandbox.Signer
	if cfg.Builder.SigningKey != "" {
		var passphrase []byte
		if env := cfg.Builder.SigningPassphraseEnv; env != "" {
			passphrase = []byte(os.Getenv(env))
		}
		if signer, err = sandbox.LoadSigner(cfg.Builder.SigningKey, passphrase); err != nil {
			return nil, err
		}
		logger.Logger().Infof("Signing packages with key %s", signer.Fingerprint())
	}
	return sandbox.NewBuilder(sandbox.Options{
		WorkDir:          workDir,
		CompressionLevel: cfg.Builder.CompressionLevel,
		Overwrite:        cfg.Builder.Overwrite,
		Identity:         identity,
		Executor:         sandbox.ShellExecutor{Stream: cfg.Builder.StreamHookOutput},
		Signer:           signer,
		ToolVersion:      config.Version,
	})
}
