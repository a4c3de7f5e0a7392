package debutils

import (
	"errors"
	"fmt"
)

var (
	ErrBadMagic               = errors.New("not an ar archive")
	ErrMemberOrder            = errors.New("unexpected archive member order")
	ErrMissingMember          = errors.New("required archive member missing")
	ErrUnsupportedFormat      = errors.New("unsupported deb format version")
	ErrUnsupportedCompression = errors.New("unsupported compression")
	ErrTruncated              = errors.New("truncated stream")
	ErrMalformedControl       = errors.New("malformed control data")
)

// ArchiveError reports a malformed or unsupported .deb. Member names the
// archive member being read when the failure happened.
type ArchiveError struct {
	Member string
	Err    error
}

func (e *ArchiveError) Error() string {
	if e.Member == "" {
		return fmt.Sprintf("invalid deb archive: %v", e.Err)
	}
	return fmt.Sprintf("invalid deb archive member %s: %v", e.Member, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

func archiveErr(member string, err error) error {
	var ae *ArchiveError
	if errors.As(err, &ae) {
		return err
	}
	return &ArchiveError{Member: member, Err: err}
}
