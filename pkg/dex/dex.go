package dex

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blacktop/vdex/internal/buffer"
	"github.com/dustin/go-humanize"
	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	ErrInvalidMagic = errors.New("invalid dex magic")
	ErrTruncated    = errors.New("dex file is truncated")
	ErrOutOfRange   = errors.New("dex index out of range")
)

const (
	HeaderSize   = 0x70
	EndianTag    = 0x12345678
	NoIndex      = 0xffffffff
	classDefSize = 32

	stringCacheSize = 4096
)

var magicPrefix = []byte("dex\n")

// valid dex format versions
var knownVersions = []string{"035", "037", "038", "039"}

// Header represents the dex header_item
type Header struct {
	Magic         [8]byte
	Checksum      uint32 // adler32 of everything past this field
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIdsSize uint32
	StringIdsOff  uint32
	TypeIdsSize   uint32
	TypeIdsOff    uint32
	ProtoIdsSize  uint32
	ProtoIdsOff   uint32
	FieldIdsSize  uint32
	FieldIdsOff   uint32
	MethodIdsSize uint32
	MethodIdsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// Version returns the three digit format version from the magic
func (h Header) Version() string {
	return string(h.Magic[4:7])
}

func (h Header) String() string {
	var buf bytes.Buffer
	buf.WriteString("DEX Header:\n")
	buf.WriteString(fmt.Sprintf("  Version:    %s\n", h.Version()))
	buf.WriteString(fmt.Sprintf("  Checksum:   %#08x\n", h.Checksum))
	buf.WriteString(fmt.Sprintf("  Signature:  %x\n", h.Signature))
	buf.WriteString(fmt.Sprintf("  FileSize:   %d (%s)\n", h.FileSize, humanize.Bytes(uint64(h.FileSize))))
	buf.WriteString(fmt.Sprintf("  Strings:    %d @ %#x\n", h.StringIdsSize, h.StringIdsOff))
	buf.WriteString(fmt.Sprintf("  Types:      %d @ %#x\n", h.TypeIdsSize, h.TypeIdsOff))
	buf.WriteString(fmt.Sprintf("  Protos:     %d @ %#x\n", h.ProtoIdsSize, h.ProtoIdsOff))
	buf.WriteString(fmt.Sprintf("  Fields:     %d @ %#x\n", h.FieldIdsSize, h.FieldIdsOff))
	buf.WriteString(fmt.Sprintf("  Methods:    %d @ %#x\n", h.MethodIdsSize, h.MethodIdsOff))
	buf.WriteString(fmt.Sprintf("  ClassDefs:  %d @ %#x\n", h.ClassDefsSize, h.ClassDefsOff))
	buf.WriteString(fmt.Sprintf("  Data:       %s @ %#x\n", humanize.Bytes(uint64(h.DataSize)), h.DataOff))
	return buf.String()
}

// FieldID is a field_id_item
type FieldID struct {
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

// MethodID is a method_id_item
type MethodID struct {
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

// ProtoID is a proto_id_item
type ProtoID struct {
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	ParametersOff uint32
}

// ClassDef is a class_def_item
type ClassDef struct {
	ClassIdx        uint32
	AccessFlags     uint32
	SuperclassIdx   uint32
	InterfacesOff   uint32
	SourceFileIdx   uint32
	AnnotationsOff  uint32
	ClassDataOff    uint32
	StaticValuesOff uint32
}

// File is a parsed dex file backed by a mutable byte slice.
// Code items returned by a File alias that slice so in-place rewrites land in the dex buffer.
type File struct {
	Header

	data    []byte
	strings *lru.Cache[uint32, string]
}

// IsValidMagic reports whether data starts with a supported dex magic
func IsValidMagic(data []byte) bool {
	if len(data) < 8 || !bytes.Equal(data[:4], magicPrefix) || data[7] != 0 {
		return false
	}
	version := string(data[4:7])
	for _, v := range knownVersions {
		if version == v {
			return true
		}
	}
	return false
}

// Parse parses the dex file in data. The slice is retained (not copied).
func Parse(data []byte) (*File, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is smaller than the header", ErrTruncated, len(data))
	}
	if !IsValidMagic(data) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMagic, data[:8])
	}

	f := &File{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &f.Header); err != nil {
		return nil, fmt.Errorf("failed to read dex header: %w", err)
	}
	if f.EndianTag != EndianTag {
		return nil, fmt.Errorf("unsupported dex endian tag %#x", f.EndianTag)
	}
	if f.FileSize < HeaderSize || int(f.FileSize) > len(data) {
		return nil, fmt.Errorf("%w: header claims %d bytes, have %d", ErrTruncated, f.FileSize, len(data))
	}
	f.data = data[:f.FileSize:f.FileSize]

	cache, err := lru.New[uint32, string](stringCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create string cache: %w", err)
	}
	f.strings = cache

	return f, nil
}

// Bytes returns the dex buffer (FileSize bytes)
func (f *File) Bytes() []byte {
	return f.data
}

func (f *File) u32(off uint32) (uint32, error) {
	if uint64(off)+4 > uint64(len(f.data)) {
		return 0, fmt.Errorf("%w: u32 read at %#x", ErrTruncated, off)
	}
	return binary.LittleEndian.Uint32(f.data[off:]), nil
}

func (f *File) u16(off uint32) (uint16, error) {
	if uint64(off)+2 > uint64(len(f.data)) {
		return 0, fmt.Errorf("%w: u16 read at %#x", ErrTruncated, off)
	}
	return binary.LittleEndian.Uint16(f.data[off:]), nil
}

// String returns the string_data_item for string id idx
func (f *File) String(idx uint32) (string, error) {
	if idx >= f.StringIdsSize {
		return "", fmt.Errorf("%w: string %d >= %d", ErrOutOfRange, idx, f.StringIdsSize)
	}
	if s, ok := f.strings.Get(idx); ok {
		return s, nil
	}
	dataOff, err := f.u32(f.StringIdsOff + idx*4)
	if err != nil {
		return "", err
	}
	r := buffer.NewReaderAt(f.data, int(dataOff), len(f.data))
	if _, err := r.ULEB128(); err != nil { // utf16_size
		return "", fmt.Errorf("failed to read string %d size: %w", idx, err)
	}
	s, err := r.CString()
	if err != nil {
		return "", fmt.Errorf("failed to read string %d data: %w", idx, err)
	}
	f.strings.Add(idx, s)
	return s, nil
}

// TypeDescriptor returns the descriptor string for type id idx
func (f *File) TypeDescriptor(idx uint32) (string, error) {
	if idx >= f.TypeIdsSize {
		return "", fmt.Errorf("%w: type %d >= %d", ErrOutOfRange, idx, f.TypeIdsSize)
	}
	descIdx, err := f.u32(f.TypeIdsOff + idx*4)
	if err != nil {
		return "", err
	}
	return f.String(descIdx)
}

// FieldID returns the field_id_item at idx
func (f *File) FieldID(idx uint32) (FieldID, error) {
	if idx >= f.FieldIdsSize {
		return FieldID{}, fmt.Errorf("%w: field %d >= %d", ErrOutOfRange, idx, f.FieldIdsSize)
	}
	var fid FieldID
	if err := f.readAt(f.FieldIdsOff+idx*8, &fid); err != nil {
		return FieldID{}, err
	}
	return fid, nil
}

// MethodID returns the method_id_item at idx
func (f *File) MethodID(idx uint32) (MethodID, error) {
	if idx >= f.MethodIdsSize {
		return MethodID{}, fmt.Errorf("%w: method %d >= %d", ErrOutOfRange, idx, f.MethodIdsSize)
	}
	var mid MethodID
	if err := f.readAt(f.MethodIdsOff+idx*8, &mid); err != nil {
		return MethodID{}, err
	}
	return mid, nil
}

// ProtoID returns the proto_id_item at idx
func (f *File) ProtoID(idx uint32) (ProtoID, error) {
	if idx >= f.ProtoIdsSize {
		return ProtoID{}, fmt.Errorf("%w: proto %d >= %d", ErrOutOfRange, idx, f.ProtoIdsSize)
	}
	var pid ProtoID
	if err := f.readAt(f.ProtoIdsOff+idx*12, &pid); err != nil {
		return ProtoID{}, err
	}
	return pid, nil
}

// ClassDef returns the class_def_item at idx
func (f *File) ClassDef(idx uint32) (ClassDef, error) {
	if idx >= f.ClassDefsSize {
		return ClassDef{}, fmt.Errorf("%w: class def %d >= %d", ErrOutOfRange, idx, f.ClassDefsSize)
	}
	var cd ClassDef
	if err := f.readAt(f.ClassDefsOff+idx*classDefSize, &cd); err != nil {
		return ClassDef{}, err
	}
	return cd, nil
}

func (f *File) readAt(off uint32, v any) error {
	size := binary.Size(v)
	if uint64(off)+uint64(size) > uint64(len(f.data)) {
		return fmt.Errorf("%w: %T at %#x", ErrTruncated, v, off)
	}
	return binary.Read(bytes.NewReader(f.data[off:int(off)+size]), binary.LittleEndian, v)
}

// MethodName returns the name of method m
func (f *File) MethodName(m MethodID) (string, error) {
	return f.String(m.NameIdx)
}

// MethodDeclaringClassDescriptor returns the descriptor of the class declaring m
func (f *File) MethodDeclaringClassDescriptor(m MethodID) (string, error) {
	return f.TypeDescriptor(uint32(m.ClassIdx))
}

// MethodSignature returns the proto of m in descriptor form, e.g. "(ILjava/lang/String;)V"
func (f *File) MethodSignature(m MethodID) (string, error) {
	proto, err := f.ProtoID(uint32(m.ProtoIdx))
	if err != nil {
		return "", err
	}
	var sig bytes.Buffer
	sig.WriteByte('(')
	if proto.ParametersOff != 0 {
		size, err := f.u32(proto.ParametersOff)
		if err != nil {
			return "", err
		}
		for i := uint32(0); i < size; i++ {
			typeIdx, err := f.u16(proto.ParametersOff + 4 + i*2)
			if err != nil {
				return "", err
			}
			desc, err := f.TypeDescriptor(uint32(typeIdx))
			if err != nil {
				return "", err
			}
			sig.WriteString(desc)
		}
	}
	sig.WriteByte(')')
	ret, err := f.TypeDescriptor(proto.ReturnTypeIdx)
	if err != nil {
		return "", err
	}
	sig.WriteString(ret)
	return sig.String(), nil
}

// FieldName returns the name of field fid
func (f *File) FieldName(fid FieldID) (string, error) {
	return f.String(fid.NameIdx)
}

// FieldDeclaringClassDescriptor returns the descriptor of the class declaring fid
func (f *File) FieldDeclaringClassDescriptor(fid FieldID) (string, error) {
	return f.TypeDescriptor(uint32(fid.ClassIdx))
}

// FieldTypeDescriptor returns the descriptor of the type of fid
func (f *File) FieldTypeDescriptor(fid FieldID) (string, error) {
	return f.TypeDescriptor(uint32(fid.TypeIdx))
}

// PrettyMethod renders method idx as "Lpkg/Cls;->name(sig)" for logging.
func (f *File) PrettyMethod(idx uint32) string {
	mid, err := f.MethodID(idx)
	if err != nil {
		return fmt.Sprintf("method@%d", idx)
	}
	cls, _ := f.MethodDeclaringClassDescriptor(mid)
	name, _ := f.MethodName(mid)
	sig, _ := f.MethodSignature(mid)
	return fmt.Sprintf("%s->%s%s", cls, name, sig)
}
