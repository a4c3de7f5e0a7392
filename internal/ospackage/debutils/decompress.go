package debutils

import (
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Compression identifies the compressor of a tar member.
type Compression string

const (
	CompressionNone  Compression = "none"
	CompressionGzip  Compression = "gzip"
	CompressionXz    Compression = "xz"
	CompressionZstd  Compression = "zstd"
	CompressionBzip2 Compression = "bzip2"
)

// compressionFor derives the compression from a member name such as
// "data.tar.xz". base is "control.tar" or "data.tar".
func compressionFor(member, base string) (Compression, error) {
	switch strings.TrimPrefix(member, base) {
	case "":
		return CompressionNone, nil
	case ".gz":
		return CompressionGzip, nil
	case ".xz":
		return CompressionXz, nil
	case ".zst":
		return CompressionZstd, nil
	case ".bz2":
		if base == memberDataBase {
			return CompressionBzip2, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedCompression, member)
}

type readCloser struct {
	io.Reader
	close func() error
}

func (r readCloser) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// decompressor wraps r with the reader for c.
func decompressor(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionNone:
		return readCloser{Reader: r}, nil
	case CompressionGzip:
		gzr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create gzip reader: %w", normalizeEOF(err))
		}
		return gzr, nil
	case CompressionXz:
		xzr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to create xz reader: %w", normalizeEOF(err))
		}
		return readCloser{Reader: xzr}, nil
	case CompressionZstd:
		zr, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd reader: %w", err)
		}
		return readCloser{Reader: zr, close: func() error { zr.Close(); return nil }}, nil
	case CompressionBzip2:
		return readCloser{Reader: bzip2.NewReader(r)}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCompression, c)
}

// normalizeEOF maps the different ways decompressors report a short stream
// onto ErrTruncated.
func normalizeEOF(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if errors.Is(err, zstd.ErrMagicMismatch) || errors.Is(err, gzip.ErrHeader) || errors.Is(err, gzip.ErrChecksum) {
		return err
	}
	if strings.Contains(err.Error(), "unexpected EOF") {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return err
}
