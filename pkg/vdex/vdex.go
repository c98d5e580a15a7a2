package vdex

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/apex/log"
	"github.com/blacktop/vdex/pkg/dex"
	"github.com/dustin/go-humanize"
)

const (
	Magic      = "vdex"
	Version006 = "006\x00"

	HeaderSize = 24
)

// Header is the vdex 006 file header
type Header struct {
	Magic              [4]byte
	Version            [4]byte
	NumberOfDexFiles   uint32
	DexSize            uint32
	VerifierDepsSize   uint32
	QuickeningInfoSize uint32
}

// VersionString returns the version without its NUL terminator
func (h Header) VersionString() string {
	return string(bytes.TrimRight(h.Version[:], "\x00"))
}

// File is a parsed vdex 006 file.
// The underlying buffer is writable and private to the File; embedded dex files are
// rewritten in place during extraction.
type File struct {
	Header

	data      []byte
	checksums []uint32
	closer    func() error
}

// Open memory maps the vdex file at path (copy-on-write) and parses it
func Open(path string) (*File, error) {
	data, unmap, err := mapFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		unmap()
		return nil, err
	}
	f.closer = unmap
	return f, nil
}

// Close releases the file mapping
func (f *File) Close() error {
	if f.closer != nil {
		err := f.closer()
		f.closer = nil
		f.data = nil
		return err
	}
	return nil
}

// Parse parses a vdex 006 file from data. The slice is retained and may be modified.
func Parse(data []byte) (*File, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrTruncated, len(data))
	}
	f := &File{data: data}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, &f.Header); err != nil {
		return nil, fmt.Errorf("failed to read vdex header: %w", err)
	}
	if string(f.Magic[:]) != Magic {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, f.Magic[:])
	}
	if string(f.Version[:]) != Version006 {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, f.VersionString())
	}

	need := uint64(HeaderSize) + 4*uint64(f.NumberOfDexFiles) +
		uint64(f.DexSize) + uint64(f.VerifierDepsSize) + uint64(f.QuickeningInfoSize)
	if need > uint64(len(data)) {
		return nil, fmt.Errorf("%w: sections need %d bytes, have %d", ErrTruncated, need, len(data))
	}

	f.checksums = make([]uint32, f.NumberOfDexFiles)
	for i := range f.checksums {
		f.checksums[i] = binary.LittleEndian.Uint32(data[HeaderSize+4*i:])
	}

	return f, nil
}

// Bytes returns the whole vdex buffer
func (f *File) Bytes() []byte {
	return f.data
}

// DexChecksums returns the location checksums of the embedded dex files
func (f *File) DexChecksums() []uint32 {
	return f.checksums
}

// HasDexSection reports whether the vdex embeds any dex files
func (f *File) HasDexSection() bool {
	return f.DexSize != 0
}

func (f *File) dexBegin() uint32 {
	return HeaderSize + 4*f.NumberOfDexFiles
}

func (f *File) dexEnd() uint32 {
	return f.dexBegin() + f.DexSize
}

// NextDexFile returns the dex file at *offset and advances *offset past it.
// A zero offset starts at the first dex file. It returns nil once the dex section is exhausted
// or the next dex file does not fit in it.
func (f *File) NextDexFile(offset *uint32) []byte {
	if !f.HasDexSection() {
		return nil
	}
	if *offset == 0 {
		*offset = f.dexBegin()
	}
	start, end := uint64(*offset), uint64(f.dexEnd())
	if start+dex.HeaderSize > end {
		return nil
	}
	fileSize := uint64(binary.LittleEndian.Uint32(f.data[start+0x20:]))
	if fileSize < dex.HeaderSize || start+fileSize > end {
		log.WithFields(log.Fields{
			"offset":    fmt.Sprintf("%#x", start),
			"file_size": fileSize,
			"dex_end":   fmt.Sprintf("%#x", end),
		}).Warn("Embedded dex file does not fit in the dex section")
		return nil
	}
	*offset = uint32(start + fileSize)
	return f.data[start : start+fileSize : start+fileSize]
}

// DexFiles yields the embedded dex files in order with their index
func (f *File) DexFiles() iter.Seq2[int, []byte] {
	return func(yield func(int, []byte) bool) {
		var offset uint32
		for i := 0; i < int(f.NumberOfDexFiles); i++ {
			buf := f.NextDexFile(&offset)
			if buf == nil {
				return
			}
			if !yield(i, buf) {
				return
			}
		}
	}
}

// VerifierDepsData returns the verifier dependency section
func (f *File) VerifierDepsData() []byte {
	off := f.dexEnd()
	return f.data[off : off+f.VerifierDepsSize : off+f.VerifierDepsSize]
}

// QuickeningInfo returns the quickening info section
func (f *File) QuickeningInfo() []byte {
	off := f.dexEnd() + f.VerifierDepsSize
	return f.data[off : off+f.QuickeningInfoSize : off+f.QuickeningInfoSize]
}

func (f *File) String() string {
	var buf bytes.Buffer
	buf.WriteString("VDEX Header:\n")
	buf.WriteString(fmt.Sprintf("  Magic:   %s\n", f.Magic[:]))
	buf.WriteString(fmt.Sprintf("  Version: %s\n", f.VersionString()))
	buf.WriteString(fmt.Sprintf("  DexFiles: %d\n", f.NumberOfDexFiles))
	buf.WriteString("VDEX Sections:\n")
	sections := []struct {
		name string
		off  uint32
		size uint32
	}{
		{"dex", f.dexBegin(), f.DexSize},
		{"verifier deps", f.dexEnd(), f.VerifierDepsSize},
		{"quickening info", f.dexEnd() + f.VerifierDepsSize, f.QuickeningInfoSize},
	}
	for _, s := range sections {
		buf.WriteString(fmt.Sprintf("  %-16s %#08x-%#08x (%s)\n", s.name+":", s.off, s.off+s.size, humanize.Bytes(uint64(s.size))))
	}
	buf.WriteString("Dex Checksums:\n")
	for i, sum := range f.checksums {
		buf.WriteString(fmt.Sprintf("  [%d] %#08x\n", i, sum))
	}
	return buf.String()
}
