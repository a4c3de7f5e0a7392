package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// publish moves the artifact and its signature into outDir. The artifact
// is written last so a visible package always has its signature beside it.
func (b *Builder) publish(artifact, sig, outDir, name string) (*Artifact, error) {
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	dst := filepath.Join(outDir, name)
	if !b.opts.Overwrite {
		if _, err := os.Lstat(dst); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrArtifactExist, dst)
		}
	}
	sum, err := fileSHA256(artifact)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(artifact)
	if err != nil {
		return nil, err
	}
	art := &Artifact{Path: dst, Name: name, Size: fi.Size(), SHA256: sum}
	if sig != "" {
		art.Signature = dst + SignatureExt
		if err := moveFile(sig, art.Signature); err != nil {
			return nil, err
		}
	}
	if err := moveFile(artifact, dst); err != nil {
		if art.Signature != "" {
			_ = os.Remove(art.Signature)
		}
		return nil, err
	}
	return art, nil
}

// moveFile renames src to dst, copying through a temporary file in dst's
// directory when the two live on different filesystems.
func moveFile(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".deb2arch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
