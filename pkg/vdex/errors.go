package vdex

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMagic is returned when the file does not start with "vdex"
	ErrInvalidMagic = errors.New("invalid vdex magic")
	// ErrUnsupportedVersion is returned for any vdex version other than 006
	ErrUnsupportedVersion = errors.New("unsupported vdex version")
	// ErrTruncated is returned when a declared section runs past the end of the file
	ErrTruncated = errors.New("vdex file is truncated")

	// ErrMalformedMetadata means the verifier dependency blob is corrupt
	ErrMalformedMetadata = errors.New("malformed verifier dependency metadata")
	// ErrInvalidDexFile means an embedded dex file has a bad magic; it is skipped
	ErrInvalidDexFile = errors.New("invalid embedded dex file")
	// ErrRewriteFailure means a quickening frame could not be applied to a method
	ErrRewriteFailure = errors.New("failed to unquicken method")
	// ErrChecksumMismatch means the unquickened dex does not match its stored checksum
	ErrChecksumMismatch = errors.New("dex checksum mismatch")
	// ErrBlobMisalignment means the quickening info was not consumed exactly
	ErrBlobMisalignment = errors.New("quickening info misaligned")
	// ErrOutputFailure means the output writer failed
	ErrOutputFailure = errors.New("failed to write dex file")
)

// ChecksumError carries the checksum values of a mismatching dex file
type ChecksumError struct {
	DexIndex int
	Stored   uint32
	Computed uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("dex file #%d: %s: stored %#08x, computed %#08x", e.DexIndex, ErrChecksumMismatch, e.Stored, e.Computed)
}

func (e *ChecksumError) Unwrap() error { return ErrChecksumMismatch }

// RewriteError identifies the method whose quickening frame failed to apply
type RewriteError struct {
	DexIndex  int
	MethodIdx uint32
	Method    string
	Err       error
}

func (e *RewriteError) Error() string {
	name := e.Method
	if name == "" {
		name = fmt.Sprintf("method@%d", e.MethodIdx)
	}
	return fmt.Sprintf("dex file #%d: %s %s: %v", e.DexIndex, ErrRewriteFailure, name, e.Err)
}

func (e *RewriteError) Unwrap() []error { return []error{ErrRewriteFailure, e.Err} }
