// Package sandbox builds Arch packages from BuildPlans inside private,
// per-build session directories.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/archutils"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
	"github.com/open-edge-platform/deb2arch/internal/utils/shell"
)

// DefaultCompressionLevel is the zstd level used when none is configured.
const DefaultCompressionLevel = 19

// Options configure a Builder.
type Options struct {
	// WorkDir holds the session directories.
	WorkDir string
	// CompressionLevel is the zstd level, 1-22.
	CompressionLevel int
	// Overwrite allows replacing an existing artifact.
	Overwrite bool
	Identity  Identity
	Executor  Executor
	// Signer, when set, writes a detached signature next to each artifact.
	Signer *Signer
	// ToolVersion is recorded as buildtoolver in .BUILDINFO.
	ToolVersion string
	// Clock stamps build dates and member times when SOURCE_DATE_EPOCH is
	// unset.
	Clock func() time.Time
}

// Artifact describes a published package.
type Artifact struct {
	Path      string
	Name      string
	Size      int64
	SHA256    string
	Signature string // path of the .sig file, if signed
	PkgInfo   *archutils.PkgInfo
}

// Builder turns plans into packages. It is safe for concurrent use; each
// Build runs in its own session.
type Builder struct {
	opts Options
}

func NewBuilder(opts Options) (*Builder, error) {
	if opts.WorkDir == "" {
		return nil, fmt.Errorf("sandbox work directory is required")
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = DefaultCompressionLevel
	}
	if opts.CompressionLevel < 1 || opts.CompressionLevel > 22 {
		return nil, fmt.Errorf("zstd level %d out of range 1-22", opts.CompressionLevel)
	}
	if opts.Executor == nil {
		opts.Executor = ShellExecutor{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Builder{opts: opts}, nil
}

// buildTime honours SOURCE_DATE_EPOCH for reproducible output.
func (b *Builder) buildTime() time.Time {
	if v := os.Getenv("SOURCE_DATE_EPOCH"); v != "" {
		if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Unix(sec, 0).UTC()
		}
	}
	return b.opts.Clock().UTC().Truncate(time.Second)
}

// Build produces the package for plan and publishes it into outDir. Nothing
// is written to outDir before the artifact has been verified.
func (b *Builder) Build(ctx context.Context, plan *planner.BuildPlan, outDir string) (*Artifact, error) {
	log := logger.Logger()
	if plan == nil || !archutils.ValidName(plan.Target.PkgName) {
		return nil, &BuildError{Stage: StageStaging, Err: ErrInvalidPlan}
	}
	pkg := plan.Target.PkgName
	if plan.Payload == nil {
		return nil, &BuildError{Stage: StageStaging, Package: pkg, Err: fmt.Errorf("%w: no payload", ErrInvalidPlan)}
	}

	var art *Artifact
	err := WithSession(ctx, b.opts.WorkDir, b.opts.Identity, func(ctx context.Context, s *Session) error {
		when := b.buildTime()
		sum, err := b.stageWithRetry(ctx, s, plan)
		if err != nil {
			return err
		}
		if len(plan.Hooks) > 0 {
			if err := handOver(s); err != nil {
				return &BuildError{Stage: StageHook, Package: pkg, Err: err}
			}
		}
		if err := b.runHooks(ctx, s, plan, when); err != nil {
			return err
		}
		scratch, info, err := b.assemble(ctx, s, plan, sum, when)
		if err != nil {
			return &BuildError{Stage: StageAssemble, Package: pkg, Err: err}
		}
		if err := verify(scratch, plan); err != nil {
			return &BuildError{Stage: StageVerify, Package: pkg, Err: err}
		}
		var sig string
		if b.opts.Signer != nil {
			if sig, err = b.sign(scratch); err != nil {
				return &BuildError{Stage: StageSign, Package: pkg, Err: err}
			}
		}
		art, err = b.publish(scratch, sig, outDir, plan.ArtifactName())
		if err != nil {
			return &BuildError{Stage: StagePublish, Package: pkg, Err: err}
		}
		art.PkgInfo = info
		return nil
	})
	if err != nil {
		var be *BuildError
		if !errors.As(err, &be) {
			err = &BuildError{Stage: StageStaging, Package: pkg, Err: err}
		}
		return nil, err
	}
	log.Infof("Built %s (%d bytes)", art.Name, art.Size)
	return art, nil
}

func (b *Builder) runHooks(ctx context.Context, s *Session, plan *planner.BuildPlan, when time.Time) error {
	log := logger.Logger()
	env := []string{
		"PKGDIR=" + s.Staging,
		"PKGNAME=" + plan.Target.PkgName,
		"PKGVER=" + plan.Target.Version().String(),
		"HOME=" + s.Root,
		"PATH=" + shell.DefaultPath,
		"SOURCE_DATE_EPOCH=" + strconv.FormatInt(when.Unix(), 10),
	}
	// hooks may fetch over the network
	env = append(env, shell.GetOSProxyEnvirons()...)
	for _, h := range plan.Hooks {
		log.Debugf("Running hook %s for %s", h.Name, plan.Target.PkgName)
		res, err := b.opts.Executor.Run(ctx, Command{
			Name:     h.Name,
			Script:   h.Command,
			Dir:      s.Staging,
			Env:      env,
			Identity: s.Identity,
		})
		if err == nil && res.ExitCode != 0 {
			err = fmt.Errorf("exit status %d", res.ExitCode)
		}
		if err != nil {
			return &BuildError{
				Stage:       StageHook,
				Package:     plan.Target.PkgName,
				Diagnostics: res.Stderr,
				Err:         fmt.Errorf("hook %s: %w", h.Name, err),
			}
		}
	}
	return nil
}

func (b *Builder) sign(artifact string) (string, error) {
	f, err := os.Open(artifact)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sigPath := artifact + SignatureExt
	out, err := os.Create(sigPath)
	if err != nil {
		return "", err
	}
	if err := b.opts.Signer.Sign(out, f); err != nil {
		out.Close()
		return "", err
	}
	return sigPath, out.Close()
}

// scratchPath is where an artifact is assembled before publishing.
func scratchPath(s *Session, name string) string {
	return filepath.Join(s.Scratch, name)
}
