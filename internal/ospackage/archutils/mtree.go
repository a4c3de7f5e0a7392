package archutils

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// MtreeEntry describes one path in a package's .MTREE file.
type MtreeEntry struct {
	Path   string // relative to the package root, without "./"
	Type   string // file, dir or link
	Mode   fs.FileMode
	UID    int
	GID    int
	Size   int64
	Time   int64
	SHA256 string
	Link   string
}

// WriteMtree writes entries as a gzip-compressed mtree spec.
func WriteMtree(w io.Writer, entries []MtreeEntry) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return fmt.Errorf("failed to create mtree writer: %w", err)
	}
	bw := bufio.NewWriter(zw)
	fmt.Fprintln(bw, "#mtree")
	fmt.Fprintln(bw, "/set type=file uid=0 gid=0 mode=644")
	for _, e := range entries {
		fmt.Fprintf(bw, "./%s time=%d.0", mtreeEscape(e.Path), e.Time)
		if e.Type != "file" {
			fmt.Fprintf(bw, " type=%s", e.Type)
		}
		if perm := modeBits(e.Mode); perm != 0o644 || e.Type != "file" {
			fmt.Fprintf(bw, " mode=%o", perm)
		}
		if e.UID != 0 {
			fmt.Fprintf(bw, " uid=%d", e.UID)
		}
		if e.GID != 0 {
			fmt.Fprintf(bw, " gid=%d", e.GID)
		}
		switch e.Type {
		case "file":
			fmt.Fprintf(bw, " size=%d sha256digest=%s", e.Size, e.SHA256)
		case "link":
			fmt.Fprintf(bw, " link=%s", mtreeEscape(e.Link))
		}
		fmt.Fprintln(bw)
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write mtree: %w", err)
	}
	return zw.Close()
}

// ReadMtree parses a gzip-compressed mtree spec written by WriteMtree.
func ReadMtree(r io.Reader) ([]MtreeEntry, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open mtree: %w", err)
	}
	defer zr.Close()

	var entries []MtreeEntry
	sc := bufio.NewScanner(zr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			if line != "#mtree" {
				return nil, fmt.Errorf("mtree header missing")
			}
			first = false
			continue
		}
		if line == "" || strings.HasPrefix(line, "/set") || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		e := MtreeEntry{Path: strings.TrimPrefix(mtreeUnescape(fields[0]), "./"), Type: "file", Mode: 0o644}
		for _, kv := range fields[1:] {
			k, v, _ := strings.Cut(kv, "=")
			switch k {
			case "type":
				e.Type = v
			case "mode":
				m, err := strconv.ParseUint(v, 8, 32)
				if err != nil {
					return nil, fmt.Errorf("mtree %s: bad mode %q", e.Path, v)
				}
				e.Mode = fromModeBits(uint32(m))
			case "uid", "gid":
				id, err := strconv.Atoi(v)
				if err != nil || id < 0 {
					return nil, fmt.Errorf("mtree %s: bad %s %q", e.Path, k, v)
				}
				if k == "uid" {
					e.UID = id
				} else {
					e.GID = id
				}
			case "size":
				e.Size, _ = strconv.ParseInt(v, 10, 64)
			case "time":
				sec, _, _ := strings.Cut(v, ".")
				e.Time, _ = strconv.ParseInt(sec, 10, 64)
			case "sha256digest":
				e.SHA256 = v
			case "link":
				e.Link = mtreeUnescape(v)
			}
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read mtree: %w", err)
	}
	if first {
		return nil, fmt.Errorf("mtree is empty")
	}
	return entries, nil
}

// modeBits maps an fs.FileMode to its octal permission bits including
// setuid, setgid and sticky.
func modeBits(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= 0o4000
	}
	if m&fs.ModeSetgid != 0 {
		bits |= 0o2000
	}
	if m&fs.ModeSticky != 0 {
		bits |= 0o1000
	}
	return bits
}

func fromModeBits(bits uint32) fs.FileMode {
	m := fs.FileMode(bits & 0o777)
	if bits&0o4000 != 0 {
		m |= fs.ModeSetuid
	}
	if bits&0o2000 != 0 {
		m |= fs.ModeSetgid
	}
	if bits&0o1000 != 0 {
		m |= fs.ModeSticky
	}
	return m
}

func mtreeEscape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c <= ' ' || c >= 0x7f || c == '\\' || c == '#' || c == '=' {
			fmt.Fprintf(&b, "\\%03o", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func mtreeUnescape(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
