package dex

import (
	"encoding/binary"
	"fmt"
)

const codeItemHeaderSize = 16

// CodeItemHeader is the fixed part of a code_item
type CodeItemHeader struct {
	RegistersSize uint16
	InsSize       uint16
	OutsSize      uint16
	TriesSize     uint16
	DebugInfoOff  uint32
	InsnsSize     uint32 // in 16-bit code units
}

// CodeItem is a code_item whose instruction stream aliases the dex buffer
type CodeItem struct {
	CodeItemHeader
	Offset uint32
	Insns  []byte
}

// CodeItem returns the code_item at off
func (f *File) CodeItem(off uint32) (*CodeItem, error) {
	if uint64(off)+codeItemHeaderSize > uint64(len(f.data)) {
		return nil, fmt.Errorf("%w: code item header at %#x", ErrTruncated, off)
	}
	ci := &CodeItem{Offset: off}
	if err := f.readAt(off, &ci.CodeItemHeader); err != nil {
		return nil, err
	}
	start := uint64(off) + codeItemHeaderSize
	end := start + uint64(ci.InsnsSize)*2
	if end > uint64(len(f.data)) {
		return nil, fmt.Errorf("%w: code item at %#x has %d code units past the end of the file", ErrTruncated, off, ci.InsnsSize)
	}
	ci.Insns = f.data[start:end:end]
	return ci, nil
}

// Unit returns the code unit at pc
func (c *CodeItem) Unit(pc uint32) uint16 {
	return binary.LittleEndian.Uint16(c.Insns[pc*2:])
}

// SetUnit overwrites the code unit at pc
func (c *CodeItem) SetUnit(pc uint32, v uint16) {
	binary.LittleEndian.PutUint16(c.Insns[pc*2:], v)
}

// Opcode returns the opcode of the instruction at pc
func (c *CodeItem) Opcode(pc uint32) Opcode {
	return Opcode(c.Insns[pc*2])
}

// SetOpcode replaces the opcode of the instruction at pc, keeping its high byte
func (c *CodeItem) SetOpcode(pc uint32, op Opcode) {
	c.Insns[pc*2] = byte(op)
}

// InstructionSize returns the length in code units of the instruction at pc,
// including switch and array payload pseudo-instructions.
func (c *CodeItem) InstructionSize(pc uint32) (uint32, error) {
	if pc >= c.InsnsSize {
		return 0, fmt.Errorf("%w: pc %#x past %d code units", ErrOutOfRange, pc, c.InsnsSize)
	}
	unit := c.Unit(pc)
	var size uint32
	switch {
	case unit == PackedSwitchSignature:
		if pc+1 >= c.InsnsSize {
			return 0, fmt.Errorf("%w: packed-switch-payload at %#x", ErrTruncated, pc)
		}
		size = 4 + uint32(c.Unit(pc+1))*2
	case unit == SparseSwitchSignature:
		if pc+1 >= c.InsnsSize {
			return 0, fmt.Errorf("%w: sparse-switch-payload at %#x", ErrTruncated, pc)
		}
		size = 2 + uint32(c.Unit(pc+1))*4
	case unit == FillArrayDataSignature:
		if pc+3 >= c.InsnsSize {
			return 0, fmt.Errorf("%w: fill-array-data-payload at %#x", ErrTruncated, pc)
		}
		width := uint64(c.Unit(pc + 1))
		count := uint64(c.Unit(pc+2)) | uint64(c.Unit(pc+3))<<16
		size64 := 4 + (count*width+1)/2
		if size64 > uint64(c.InsnsSize) {
			return 0, fmt.Errorf("%w: fill-array-data-payload at %#x is %d code units", ErrTruncated, pc, size64)
		}
		size = uint32(size64)
	default:
		size = Opcode(unit & 0xff).Size()
	}
	if uint64(pc)+uint64(size) > uint64(c.InsnsSize) {
		return 0, fmt.Errorf("%w: %s at %#x needs %d code units, %d left",
			ErrTruncated, Opcode(unit&0xff), pc, size, c.InsnsSize-pc)
	}
	return size, nil
}
