package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/open-edge-platform/deb2arch/internal/utils/logger"
)

// Identity is the build user. Files are always packaged as root; the
// identity only decides which credentials hooks run with.
type Identity struct {
	UID int `yaml:"uid" json:"uid"`
	GID int `yaml:"gid" json:"gid"`
}

// CurrentIdentity returns the identity of this process.
func CurrentIdentity() Identity {
	return Identity{UID: os.Getuid(), GID: os.Getgid()}
}

// credential returns the credentials to drop to, or nil when the process
// cannot or need not switch users.
func (id Identity) credential() *syscall.Credential {
	if os.Geteuid() != 0 || id.UID == 0 {
		return nil
	}
	return &syscall.Credential{Uid: uint32(id.UID), Gid: uint32(id.GID)}
}

// Session is the private directory tree of one build.
type Session struct {
	ID       string
	Root     string
	Staging  string
	Scratch  string
	Identity Identity
}

// WithSession creates a session under baseDir, runs fn and removes the
// session on every path out, including panics, which are re-raised after
// cleanup.
func WithSession(ctx context.Context, baseDir string, id Identity, fn func(ctx context.Context, s *Session) error) (err error) {
	log := logger.Logger()
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return fmt.Errorf("failed to create work directory %s: %w", baseDir, err)
	}
	s := &Session{ID: uuid.NewString(), Identity: id}
	s.Root = filepath.Join(baseDir, "session-"+s.ID)
	s.Staging = filepath.Join(s.Root, "staging")
	s.Scratch = filepath.Join(s.Root, "scratch")

	if err := os.Mkdir(s.Root, 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	defer func() {
		if rmErr := s.release(); rmErr != nil {
			log.Warnf("Failed to remove session %s: %v", s.ID, rmErr)
			if err == nil {
				err = rmErr
			}
		}
	}()
	for _, dir := range []string{s.Staging, s.Scratch} {
		if err := os.Mkdir(dir, 0755); err != nil {
			return fmt.Errorf("failed to create session directory: %w", err)
		}
	}
	if cred := id.credential(); cred != nil {
		if err := os.Chown(s.Staging, id.UID, id.GID); err != nil {
			return fmt.Errorf("failed to hand staging directory to uid %d: %w", id.UID, err)
		}
	}
	log.Debugf("Session %s created at %s", s.ID, s.Root)
	return fn(ctx, s)
}

func (s *Session) release() error {
	// staging may hold read-only directories left by hooks
	_ = filepath.WalkDir(s.Root, func(p string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() {
			_ = os.Chmod(p, 0700)
		}
		return nil
	})
	if err := os.RemoveAll(s.Root); err != nil {
		return fmt.Errorf("failed to remove session %s: %w", s.Root, err)
	}
	return nil
}

// Path maps an absolute package path into the staging tree. It rejects
// paths that would leave the staging root lexically or through a
// symlinked parent directory.
func (s *Session) Path(p string) (string, error) {
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
		}
	}
	clean := path.Clean("/" + p)
	full := filepath.Join(s.Staging, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.Staging, full)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPathEscape, p)
	}

	// every existing parent must be a real directory
	dir := s.Staging
	parts := strings.Split(filepath.Dir(rel), string(filepath.Separator))
	for _, part := range parts {
		if part == "." || part == "" {
			continue
		}
		dir = filepath.Join(dir, part)
		fi, err := os.Lstat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return "", err
		}
		if fi.Mode()&fs.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: %s passes through symlink %s", ErrPathEscape, p, dir)
		}
	}
	return full, nil
}
