// Package vdextest builds vdex 006 files and their verifier dependency and
// quickening info sections for tests.
package vdextest

import (
	"bytes"
	"encoding/binary"
)

// Unresolved is the encoded access flags of an unresolved class or member
const Unresolved = 0xffff

// ULEB appends the unsigned LEB128 encoding of each value to b
func ULEB(b []byte, vals ...uint32) []byte {
	for _, v := range vals {
		for {
			c := byte(v & 0x7f)
			v >>= 7
			if v == 0 {
				b = append(b, c)
				break
			}
			b = append(b, c|0x80)
		}
	}
	return b
}

// TypePair is an assignability entry (destination is encoded first)
type TypePair struct{ Dst, Src uint32 }

// Class is a class resolution entry
type Class struct{ TypeIdx, Flags uint32 }

// Member is a field or method resolution entry
type Member struct{ Idx, Flags, DeclaringClass uint32 }

// Deps is the verifier dependency record of one dex file
type Deps struct {
	Strings      []string
	Assignable   []TypePair
	Unassignable []TypePair
	Classes      []Class
	Fields       []Member
	Direct       []Member
	Virtual      []Member
	Interface    []Member
	Unverified   []uint32
}

// Encode appends the on-disk encoding of d to b
func (d Deps) Encode(b []byte) []byte {
	b = ULEB(b, uint32(len(d.Strings)))
	for _, s := range d.Strings {
		b = append(b, s...)
		b = append(b, 0)
	}
	for _, set := range [][]TypePair{d.Assignable, d.Unassignable} {
		b = ULEB(b, uint32(len(set)))
		for _, p := range set {
			b = ULEB(b, p.Dst, p.Src)
		}
	}
	b = ULEB(b, uint32(len(d.Classes)))
	for _, c := range d.Classes {
		b = ULEB(b, c.TypeIdx, c.Flags)
	}
	for _, set := range [][]Member{d.Fields, d.Direct, d.Virtual, d.Interface} {
		b = ULEB(b, uint32(len(set)))
		for _, m := range set {
			b = ULEB(b, m.Idx, m.Flags, m.DeclaringClass)
		}
	}
	b = ULEB(b, uint32(len(d.Unverified)))
	return ULEB(b, d.Unverified...)
}

// EncodeDeps encodes the verifier dependency section for every dex file
func EncodeDeps(deps ...Deps) []byte {
	var b []byte
	for _, d := range deps {
		b = d.Encode(b)
	}
	return b
}

// Pair is one (dex pc, index) entry of a quickening frame
type Pair struct{ Pc, Index uint32 }

// Frame encodes the payload of one method's quickening frame
func Frame(pairs ...Pair) []byte {
	b := []byte{}
	for _, p := range pairs {
		b = ULEB(b, p.Pc, p.Index)
	}
	return b
}

// Quickening encodes the quickening info section from per-method frame payloads
func Quickening(frames ...[]byte) []byte {
	var b []byte
	for _, f := range frames {
		b = binary.LittleEndian.AppendUint32(b, uint32(len(f)))
		b = append(b, f...)
	}
	return b
}

// Vdex describes a vdex 006 file
type Vdex struct {
	Version    string // defaults to "006"
	Dex        [][]byte
	Checksums  []uint32 // defaults to each dex file's checksum
	Deps       []byte
	Quickening []byte
}

// Build lays out the vdex file
func (v Vdex) Build() []byte {
	var buf bytes.Buffer
	version := v.Version
	if version == "" {
		version = "006"
	}
	var dexSize int
	for _, d := range v.Dex {
		dexSize += len(d)
	}
	buf.WriteString("vdex")
	buf.WriteString(version)
	buf.WriteByte(0)
	for _, n := range []int{len(v.Dex), dexSize, len(v.Deps), len(v.Quickening)} {
		binary.Write(&buf, binary.LittleEndian, uint32(n))
	}
	for i, d := range v.Dex {
		sum := uint32(0)
		if i < len(v.Checksums) {
			sum = v.Checksums[i]
		} else if len(d) >= 12 {
			sum = binary.LittleEndian.Uint32(d[8:])
		}
		binary.Write(&buf, binary.LittleEndian, sum)
	}
	for _, d := range v.Dex {
		buf.Write(d)
	}
	buf.Write(v.Deps)
	buf.Write(v.Quickening)
	return buf.Bytes()
}
