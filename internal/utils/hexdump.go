package utils

import (
	"encoding/hex"
	"errors"
	"io"
	"regexp"
	"strings"

	"github.com/blacktop/vdex/internal/colors"
)

// CREDIT: https://pkg.go.dev/encoding/hex (edited to add a base offset and color)

var zeroRun = regexp.MustCompile(`\s(00\s)+|\.`)

// HexDump returns a `hexdump -C` style dump of data where the first byte is
// labeled with offset off. Runs of zero bytes are faded when colors are enabled.
func HexDump(data []byte, off uint64) string {
	if len(data) == 0 {
		return ""
	}

	var buf strings.Builder
	buf.Grow((1 + ((len(data) - 1) / 16)) * 79)

	d := Dumper(&buf, off)
	d.Write(data)
	d.Close()

	if !colors.Enabled() {
		return buf.String()
	}
	faint := colors.Faint().SprintFunc()
	return zeroRun.ReplaceAllStringFunc(buf.String(), func(s string) string {
		return faint(s)
	})
}

// Dumper returns a WriteCloser that writes a hex dump of all written data to
// w, starting the offset column at off.
func Dumper(w io.Writer, off uint64) io.WriteCloser {
	return &dumper{w: w, n: off}
}

type dumper struct {
	w          io.Writer
	rightChars [18]byte
	buf        [27]byte
	used       int    // bytes in the current line
	n          uint64 // offset of the next byte
	closed     bool
}

func toChar(b byte) byte {
	if b < 32 || b > 126 {
		return '.'
	}
	return b
}

func (h *dumper) Write(data []byte) (n int, err error) {
	if h.closed {
		return 0, errors.New("hexdump: dumper closed")
	}

	// 00000010  2e 2f 30 31 32 33 34 35  36 37 38 39 3a 3b 3c 3d  |./0123456789:;<=|
	for i := range data {
		if h.used == 0 {
			for j := range 8 {
				h.buf[j] = byte(h.n >> (56 - 8*j))
			}
			hex.Encode(h.buf[8:], h.buf[:8])
			h.buf[24] = ' '
			h.buf[25] = ' '
			if _, err = h.w.Write(h.buf[8:26]); err != nil {
				return
			}
		}
		hex.Encode(h.buf[:], data[i:i+1])
		h.buf[2] = ' '
		l := 3
		switch h.used {
		case 7:
			h.buf[3] = ' '
			l = 4
		case 15:
			h.buf[3] = ' '
			h.buf[4] = '|'
			l = 5
		}
		if _, err = h.w.Write(h.buf[:l]); err != nil {
			return
		}
		n++
		h.rightChars[h.used] = toChar(data[i])
		h.used++
		h.n++
		if h.used == 16 {
			h.rightChars[16] = '|'
			h.rightChars[17] = '\n'
			if _, err = h.w.Write(h.rightChars[:]); err != nil {
				return
			}
			h.used = 0
		}
	}
	return
}

func (h *dumper) Close() (err error) {
	if h.closed {
		return
	}
	h.closed = true
	if h.used == 0 {
		return
	}
	h.buf[0] = ' '
	h.buf[1] = ' '
	h.buf[2] = ' '
	h.buf[3] = ' '
	h.buf[4] = '|'
	nBytes := h.used
	for h.used < 16 {
		l := 3
		switch h.used {
		case 7:
			l = 4
		case 15:
			l = 5
		}
		if _, err = h.w.Write(h.buf[:l]); err != nil {
			return
		}
		h.used++
	}
	h.rightChars[nBytes] = '|'
	h.rightChars[nBytes+1] = '\n'
	_, err = h.w.Write(h.rightChars[:nBytes+2])
	return
}
