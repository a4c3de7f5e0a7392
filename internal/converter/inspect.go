package converter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/open-edge-platform/deb2arch/internal/analyzer"
	"github.com/open-edge-platform/deb2arch/internal/ospackage/debutils"
	"github.com/open-edge-platform/deb2arch/internal/utils/general/slice"
)

type inspectKey struct {
	path  string
	size  int64
	mtime int64
}

// InspectView is the parsed metadata of an archive on disk. Views are
// shared between callers and must not be modified.
type InspectView struct {
	Path    string
	Size    int64
	Package *debutils.SourcePackage
}

// Scripts lists the maintainer scripts present, sorted.
func (v *InspectView) Scripts() []string {
	names := slice.SortedKeys(v.Package.Scripts)
	out := make([]string, len(names))
	for i, name := range names {
		out[i] = string(name)
	}
	return out
}

// Inspect parses the archive at path. Results are cached until the file's
// size or modification time changes.
func (c *Converter) Inspect(path string) (*InspectView, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	key := inspectKey{path: abs, size: fi.Size(), mtime: fi.ModTime().UnixNano()}
	if v, ok := c.inspect.Get(key); ok {
		return v, nil
	}
	src, err := debutils.ParseFile(abs)
	if err != nil {
		return nil, err
	}
	v := &InspectView{Path: abs, Size: fi.Size(), Package: src}
	c.inspect.Add(key, v)
	return v, nil
}

// Analyze inspects the archive at path and reports packaging issues,
// including how its dependencies map onto the current snapshot.
func (c *Converter) Analyze(ctx context.Context, path string) (*analyzer.Report, error) {
	v, err := c.Inspect(path)
	if err != nil {
		return nil, err
	}
	resolved, err := c.opts.Mapper.ResolvePackage(ctx, v.Package)
	if err != nil {
		return nil, err
	}
	return analyzer.Analyze(v.Package, resolved), nil
}
