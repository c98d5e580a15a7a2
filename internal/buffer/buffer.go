package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrOverrun is returned when a read would cross the reader's end bound.
var ErrOverrun = errors.New("buffer: read past end bound")

// Reader is a forward-only cursor over a byte slice with an exclusive end bound.
// Every read is checked against the bound; a failed read leaves the position untouched.
// The zero value is an empty reader.
type Reader struct {
	d   []byte
	pos int
	end int
}

// NewReader creates a Reader over all of b.
func NewReader(b []byte) *Reader {
	return &Reader{d: b, end: len(b)}
}

// NewReaderAt creates a Reader over b positioned at off and bounded by end.
// The bounds are clamped to len(b).
func NewReaderAt(b []byte, off, end int) *Reader {
	if end > len(b) || end < 0 {
		end = len(b)
	}
	if off < 0 {
		off = 0
	}
	return &Reader{d: b, pos: off, end: end}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.pos }

// End returns the exclusive end bound.
func (r *Reader) End() int { return r.end }

// Remaining returns the number of bytes between the position and the end bound.
func (r *Reader) Remaining() int {
	if r.pos >= r.end {
		return 0
	}
	return r.end - r.pos
}

// Done reports whether the position reached the end bound.
func (r *Reader) Done() bool { return r.pos >= r.end }

func (r *Reader) overrun(what string, need int) error {
	return fmt.Errorf("%w: %s at offset %#x needs %d byte(s), %d left", ErrOverrun, what, r.pos, need, r.Remaining())
}

// ULEB128 decodes one unsigned LEB128 encoded 32-bit value and advances past it.
// The position must strictly precede the end bound before the first byte is read.
func (r *Reader) ULEB128() (uint32, error) {
	if r.pos >= r.end {
		return 0, r.overrun("uleb128", 1)
	}
	var result uint32
	var shift uint
	p := r.pos
	for i := 0; i < 5; i++ {
		if p >= r.end {
			return 0, r.overrun("uleb128 continuation", i+1)
		}
		b := r.d[p]
		p++
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			r.pos = p
			return result, nil
		}
		shift += 7
	}
	return 0, fmt.Errorf("buffer: malformed uleb128 at offset %#x", r.pos)
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() (uint16, error) {
	if r.Remaining() < 2 {
		return 0, r.overrun("uint16", 2)
	}
	v := binary.LittleEndian.Uint16(r.d[r.pos:])
	r.pos += 2
	return v, nil
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, r.overrun("uint32", 4)
	}
	v := binary.LittleEndian.Uint32(r.d[r.pos:])
	r.pos += 4
	return v, nil
}

// Bytes returns the next n bytes without copying and advances past them.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, r.overrun("bytes", n)
	}
	b := r.d[r.pos : r.pos+n : r.pos+n]
	r.pos += n
	return b, nil
}

// CString reads a NUL terminated string and advances past the terminator.
// The returned string is an independent copy.
func (r *Reader) CString() (string, error) {
	if r.pos >= r.end {
		return "", r.overrun("cstring", 1)
	}
	for i := r.pos; i < r.end; i++ {
		if r.d[i] == 0 {
			s := string(r.d[r.pos:i])
			r.pos = i + 1
			return s, nil
		}
	}
	return "", r.overrun("cstring terminator", r.end-r.pos+1)
}

// Skip advances the position by n bytes.
func (r *Reader) Skip(n int) error {
	if n < 0 || r.Remaining() < n {
		return r.overrun("skip", n)
	}
	r.pos += n
	return nil
}
