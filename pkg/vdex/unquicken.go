package vdex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/vdex/internal/buffer"
	"github.com/blacktop/vdex/pkg/dex"
)

// Decompiler restores or walks the bytecode of one method
type Decompiler interface {
	// Unquicken rewrites code in place using its quickening frame
	Unquicken(df *dex.File, code *dex.CodeItem, frame []byte) error
	// Walk iterates the instructions of code without modifying them
	Walk(df *dex.File, code *dex.CodeItem) error
}

// Decompiler006 undoes the quickening performed for vdex 006 (Android 8.0)
type Decompiler006 struct{}

var _ Decompiler = Decompiler006{}

var (
	errPcMismatch   = errors.New("quickening pc does not match instruction")
	errFrameEmpty   = errors.New("quickening frame exhausted")
	errFrameUnused  = errors.New("quickening frame not fully consumed")
	errIndexTooWide = errors.New("quickening index does not fit in 16 bits")
)

// quickened field access opcodes and the opcode they were derived from
var fieldAccess = map[dex.Opcode]dex.Opcode{
	dex.OpIgetQuick:        dex.OpIget,
	dex.OpIgetWideQuick:    dex.OpIgetWide,
	dex.OpIgetObjectQuick:  dex.OpIgetObject,
	dex.OpIgetBooleanQuick: dex.OpIgetBoolean,
	dex.OpIgetByteQuick:    dex.OpIgetByte,
	dex.OpIgetCharQuick:    dex.OpIgetChar,
	dex.OpIgetShortQuick:   dex.OpIgetShort,
	dex.OpIputQuick:        dex.OpIput,
	dex.OpIputWideQuick:    dex.OpIputWide,
	dex.OpIputObjectQuick:  dex.OpIputObject,
	dex.OpIputBooleanQuick: dex.OpIputBoolean,
	dex.OpIputByteQuick:    dex.OpIputByte,
	dex.OpIputCharQuick:    dex.OpIputChar,
	dex.OpIputShortQuick:   dex.OpIputShort,
}

type quickenInfo struct {
	frame []byte
	r     *buffer.Reader
}

// indexAt consumes the next (pc, index) pair, which must belong to pc
func (q *quickenInfo) indexAt(pc uint32) (uint16, error) {
	if q.r.Done() {
		return 0, fmt.Errorf("%w at pc %#x", errFrameEmpty, pc)
	}
	got, err := q.r.ULEB128()
	if err != nil {
		return 0, fmt.Errorf("%w at pc %#x: %v", errFrameEmpty, pc, err)
	}
	if got != pc {
		return 0, fmt.Errorf("%w: expected %#x, got %#x", errPcMismatch, pc, got)
	}
	idx, err := q.r.ULEB128()
	if err != nil {
		return 0, fmt.Errorf("%w at pc %#x: %v", errFrameEmpty, pc, err)
	}
	if idx > 0xffff {
		return 0, fmt.Errorf("%w: %#x at pc %#x", errIndexTooWide, idx, pc)
	}
	return uint16(idx), nil
}

// Unquicken restores the original opcodes and indices of code from frame
func (Decompiler006) Unquicken(df *dex.File, code *dex.CodeItem, frame []byte) error {
	q := &quickenInfo{frame: frame, r: buffer.NewReader(frame)}

	for pc := uint32(0); pc < code.InsnsSize; {
		size, err := code.InstructionSize(pc)
		if err != nil {
			return err
		}
		op := code.Opcode(pc)
		switch op {
		case dex.OpReturnVoidNoBarrier:
			code.SetOpcode(pc, dex.OpReturnVoid)
		case dex.OpNop:
			restored, err := q.checkCast(code, pc)
			if err != nil {
				return err
			}
			if restored {
				size = dex.OpCheckCast.Size()
			}
		case dex.OpInvokeVirtualQuick, dex.OpInvokeVirtualRangeQuick:
			idx, err := q.indexAt(pc)
			if err != nil {
				return err
			}
			if op == dex.OpInvokeVirtualQuick {
				code.SetOpcode(pc, dex.OpInvokeVirtual)
			} else {
				code.SetOpcode(pc, dex.OpInvokeVirtualRange)
			}
			code.SetUnit(pc+1, idx)
		default:
			if orig, ok := fieldAccess[op]; ok {
				idx, err := q.indexAt(pc)
				if err != nil {
					return err
				}
				code.SetOpcode(pc, orig)
				code.SetUnit(pc+1, idx)
			}
		}
		pc += size
	}

	if !q.r.Done() {
		return fmt.Errorf("%w: %d byte(s) left", errFrameUnused, q.r.Remaining())
	}
	return nil
}

// checkCast restores a check-cast that was quickened to a nop. Its frame entries are
// the register then the type index, both keyed by the nop's pc. A nop without
// entries at its pc is a real nop (or payload) and is left alone.
func (q *quickenInfo) checkCast(code *dex.CodeItem, pc uint32) (bool, error) {
	if q.r.Done() {
		return false, nil
	}
	peek := buffer.NewReaderAt(q.frame, q.r.Offset(), q.r.End())
	if next, err := peek.ULEB128(); err != nil || next != pc {
		return false, nil
	}
	reg, err := q.indexAt(pc)
	if err != nil {
		return false, err
	}
	if reg == 0xffff {
		return false, nil
	}
	typeIdx, err := q.indexAt(pc)
	if err != nil {
		return false, err
	}
	if reg > 0xff {
		return false, fmt.Errorf("check-cast register v%d at pc %#x does not fit in 8 bits", reg, pc)
	}
	if code.InsnsSize < pc+2 {
		return false, fmt.Errorf("%w: check-cast at pc %#x", dex.ErrTruncated, pc)
	}
	code.SetUnit(pc, reg<<8|uint16(dex.OpCheckCast))
	code.SetUnit(pc+1, typeIdx)
	return true, nil
}

// Walk validates the instruction stream of code and logs it at debug level
func (Decompiler006) Walk(df *dex.File, code *dex.CodeItem) error {
	debug := debugEnabled()
	for pc := uint32(0); pc < code.InsnsSize; {
		size, err := code.InstructionSize(pc)
		if err != nil {
			return err
		}
		if debug {
			units := make([]string, 0, size)
			for i := range size {
				units = append(units, fmt.Sprintf("%04x", code.Unit(pc+i)))
			}
			log.Debugf("    %04x: %-20s %s", pc, strings.Join(units, " "), code.Opcode(pc))
		}
		pc += size
	}
	return nil
}

func debugEnabled() bool {
	if l, ok := log.Log.(*log.Logger); ok {
		return l.Level <= log.DebugLevel
	}
	return false
}
