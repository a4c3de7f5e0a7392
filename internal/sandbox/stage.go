package sandbox

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/planner"
	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

// stageWithRetry stages the payload and returns the sha256 of the source
// archive. An I/O failure is retried once on a wiped staging tree.
func (b *Builder) stageWithRetry(ctx context.Context, s *Session, plan *planner.BuildPlan) (string, error) {
	sum, err := stage(ctx, s, plan)
	if err == nil {
		return sum, nil
	}
	var pe *fs.PathError
	if errors.Is(err, ErrPathEscape) || errors.Is(err, ErrInvalidPlan) || !errors.As(err, &pe) || ctx.Err() != nil {
		return "", &BuildError{Stage: StageStaging, Package: plan.Target.PkgName, Err: err}
	}
	logger.Logger().Warnf("Staging %s failed, retrying: %v", plan.Target.PkgName, err)
	if err := wipe(s.Staging); err != nil {
		return "", &BuildError{Stage: StageStaging, Package: plan.Target.PkgName, Err: err}
	}
	sum, err = stage(ctx, s, plan)
	if err != nil {
		return "", &BuildError{Stage: StageStaging, Package: plan.Target.PkgName, Err: err}
	}
	return sum, nil
}

func wipe(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func stage(ctx context.Context, s *Session, plan *planner.BuildPlan) (string, error) {
	rc, err := plan.Payload()
	if err != nil {
		return "", fmt.Errorf("failed to open source archive: %w", err)
	}
	defer rc.Close()

	h := sha256.New()
	r := bufio.NewReaderSize(io.TeeReader(rc, h), 256*1024)
	err = debutils.WalkPayload(ctx, r, func(entry debutils.FileEntry, body io.Reader) error {
		pf, ok := plan.FileFor(entry.Path)
		if !ok {
			// skipped while planning
			return nil
		}
		dst, err := s.Path(pf.Target)
		if err != nil {
			return err
		}
		return stageEntry(s, pf, dst, body)
	})
	if err != nil {
		return "", err
	}
	// the hash covers the whole archive, not just the members read
	if _, err := io.Copy(io.Discard, r); err != nil {
		return "", fmt.Errorf("failed to read source archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func stageEntry(s *Session, pf planner.PlannedFile, dst string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	switch pf.Type {
	case debutils.TypeDir:
		if err := os.MkdirAll(dst, 0755); err != nil {
			return err
		}
		return nil
	case debutils.TypeSymlink:
		_ = os.Remove(dst)
		return os.Symlink(pf.LinkTarget, dst)
	case debutils.TypeHardlink:
		src, err := s.Path(pf.LinkTarget)
		if err != nil {
			return err
		}
		_ = os.Remove(dst)
		return os.Link(src, dst)
	case debutils.TypeRegular:
		f, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			return &fs.PathError{Op: "write", Path: dst, Err: err}
		}
		return f.Close()
	default:
		return fmt.Errorf("%w: unsupported entry type %s at %s", ErrInvalidPlan, pf.Type, pf.Target)
	}
}

// handOver gives the staged tree to the build identity so hooks running
// with dropped privileges can modify it.
func handOver(s *Session) error {
	if s.Identity.credential() == nil {
		return nil
	}
	return filepath.WalkDir(s.Staging, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(p, s.Identity.UID, s.Identity.GID)
	})
}
