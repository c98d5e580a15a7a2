package dex

import (
	"encoding/binary"
	"hash/adler32"
)

// offset of the first byte covered by the checksum (past magic and checksum)
const checksumStart = 12

// ComputeChecksum returns the adler32 of data[12:], data being a whole dex file
func ComputeChecksum(data []byte) uint32 {
	if len(data) < checksumStart {
		return adler32.Checksum(nil)
	}
	return adler32.Checksum(data[checksumStart:])
}

// StoredChecksum returns the checksum currently stored in the dex buffer
func (f *File) StoredChecksum() uint32 {
	return binary.LittleEndian.Uint32(f.data[8:])
}

// ComputeChecksum returns the checksum of the current dex buffer contents
func (f *File) ComputeChecksum() uint32 {
	return ComputeChecksum(f.data)
}

// VerifyChecksum reports whether the stored checksum matches the buffer contents
func (f *File) VerifyChecksum() (stored, computed uint32, ok bool) {
	stored = f.StoredChecksum()
	computed = f.ComputeChecksum()
	return stored, computed, stored == computed
}

// RepairChecksum recomputes the checksum and stores it in the dex buffer.
// The sha1 signature is left as is.
func (f *File) RepairChecksum() uint32 {
	sum := f.ComputeChecksum()
	binary.LittleEndian.PutUint32(f.data[8:], sum)
	f.Checksum = sum
	return sum
}
