// Package dextest builds small but structurally valid dex files for tests.
package dextest

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"sort"
	"strings"
)

// Proto is a method prototype in descriptor form
type Proto struct {
	Return string
	Params []string
}

func (p Proto) shorty() string {
	var sb strings.Builder
	for _, t := range append([]string{p.Return}, p.Params...) {
		switch t[0] {
		case 'L', '[':
			sb.WriteByte('L')
		default:
			sb.WriteByte(t[0])
		}
	}
	return sb.String()
}

func (p Proto) key() string {
	return p.Return + "(" + strings.Join(p.Params, "") + ")"
}

// Field declares a field on a class
type Field struct {
	Name   string
	Type   string
	Static bool
	Flags  uint32
}

// Method declares a method on a class. A nil Code means the method has no code item.
type Method struct {
	Name      string
	Proto     Proto
	Virtual   bool
	Flags     uint32
	Registers uint16
	Code      []uint16
}

// Class declares a class_def
type Class struct {
	Descriptor string
	Super      string
	Flags      uint32
	Fields     []Field
	Methods    []Method
}

// Ref names a field or method that is referenced but not declared
type Ref struct {
	Class string
	Name  string
	Type  string // field type descriptor
	Proto Proto  // method proto
}

// Builder lays out a dex file from class declarations
type Builder struct {
	Classes []Class
	Strings []string // additional strings
	Types   []string // additional type descriptors
	Fields  []Ref    // additional field ids
	Methods []Ref    // additional method ids
	Version string   // defaults to 035
}

// Dex is a built dex file together with its index tables
type Dex struct {
	Data []byte

	strings  []string
	types    []string
	fields   []fieldKey
	methods  []methodKey
	codeOffs map[string]uint32
}

type fieldKey struct{ class, name, typ string }
type methodKey struct {
	class, name string
	proto       Proto
}

func indexOf(list []string, s string) uint32 {
	i := sort.SearchStrings(list, s)
	if i == len(list) || list[i] != s {
		panic(fmt.Sprintf("dextest: %q not in table", s))
	}
	return uint32(i)
}

// StringIdx returns the string id of s
func (d *Dex) StringIdx(s string) uint32 { return indexOf(d.strings, s) }

// TypeIdx returns the type id of descriptor
func (d *Dex) TypeIdx(descriptor string) uint32 { return indexOf(d.types, descriptor) }

// NumStrings returns the size of the string table
func (d *Dex) NumStrings() uint32 { return uint32(len(d.strings)) }

// FieldIdx returns the field id of class->name
func (d *Dex) FieldIdx(class, name string) uint32 {
	for i, f := range d.fields {
		if f.class == class && f.name == name {
			return uint32(i)
		}
	}
	panic(fmt.Sprintf("dextest: no field %s->%s", class, name))
}

// MethodIdx returns the method id of class->name
func (d *Dex) MethodIdx(class, name string) uint32 {
	for i, m := range d.methods {
		if m.class == class && m.name == name {
			return uint32(i)
		}
	}
	panic(fmt.Sprintf("dextest: no method %s->%s", class, name))
}

// CodeOff returns the code_item offset of class->name
func (d *Dex) CodeOff(class, name string) uint32 {
	off, ok := d.codeOffs[class+"->"+name]
	if !ok {
		panic(fmt.Sprintf("dextest: no code for %s->%s", class, name))
	}
	return off
}

// PatchUnit overwrites code unit pc of class->name without touching the checksum
func (d *Dex) PatchUnit(class, name string, pc uint32, v uint16) {
	off := d.CodeOff(class, name) + 16 + pc*2
	binary.LittleEndian.PutUint16(d.Data[off:], v)
}

type set map[string]struct{}

func (s set) add(v ...string) {
	for _, x := range v {
		s[x] = struct{}{}
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func align4(buf *bytes.Buffer) {
	for buf.Len()%4 != 0 {
		buf.WriteByte(0)
	}
}

func uleb(buf *bytes.Buffer, v uint32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			buf.WriteByte(b | 0x80)
			continue
		}
		buf.WriteByte(b)
		return
	}
}

func le(v any) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, v)
	return buf.Bytes()
}

// Build lays out the dex file. The checksum and signature are valid.
func (b *Builder) Build() *Dex {
	strs, typs := set{}, set{}
	var fields []fieldKey
	var methods []methodKey
	protos := map[string]Proto{}

	addProto := func(p Proto) {
		protos[p.key()] = p
		strs.add(p.shorty())
		typs.add(p.Return)
		typs.add(p.Params...)
	}
	for _, c := range b.Classes {
		typs.add(c.Descriptor)
		if c.Super != "" {
			typs.add(c.Super)
		}
		for _, f := range c.Fields {
			strs.add(f.Name)
			typs.add(f.Type)
			fields = append(fields, fieldKey{c.Descriptor, f.Name, f.Type})
		}
		for _, m := range c.Methods {
			strs.add(m.Name)
			addProto(m.Proto)
			methods = append(methods, methodKey{c.Descriptor, m.Name, m.Proto})
		}
	}
	for _, r := range b.Fields {
		typs.add(r.Class, r.Type)
		strs.add(r.Name)
		fields = append(fields, fieldKey{r.Class, r.Name, r.Type})
	}
	for _, r := range b.Methods {
		typs.add(r.Class)
		strs.add(r.Name)
		addProto(r.Proto)
		methods = append(methods, methodKey{r.Class, r.Name, r.Proto})
	}
	typs.add(b.Types...)
	for t := range typs {
		strs.add(t)
	}
	strs.add(b.Strings...)

	d := &Dex{strings: strs.sorted(), types: typs.sorted(), codeOffs: map[string]uint32{}}

	sort.SliceStable(fields, func(i, j int) bool {
		a, c := fields[i], fields[j]
		if a.class != c.class {
			return d.TypeIdx(a.class) < d.TypeIdx(c.class)
		}
		if a.name != c.name {
			return d.StringIdx(a.name) < d.StringIdx(c.name)
		}
		return d.TypeIdx(a.typ) < d.TypeIdx(c.typ)
	})
	d.fields = fields

	protoKeys := make([]string, 0, len(protos))
	for k := range protos {
		protoKeys = append(protoKeys, k)
	}
	sort.Strings(protoKeys)
	protoIdx := map[string]uint32{}
	for i, k := range protoKeys {
		protoIdx[k] = uint32(i)
	}

	sort.SliceStable(methods, func(i, j int) bool {
		a, c := methods[i], methods[j]
		if a.class != c.class {
			return d.TypeIdx(a.class) < d.TypeIdx(c.class)
		}
		if a.name != c.name {
			return d.StringIdx(a.name) < d.StringIdx(c.name)
		}
		return protoIdx[a.proto.key()] < protoIdx[c.proto.key()]
	})
	d.methods = methods

	// fixed size sections
	stringIdsOff := uint32(0x70)
	typeIdsOff := stringIdsOff + 4*uint32(len(d.strings))
	protoIdsOff := typeIdsOff + 4*uint32(len(d.types))
	fieldIdsOff := protoIdsOff + 12*uint32(len(protoKeys))
	methodIdsOff := fieldIdsOff + 8*uint32(len(d.fields))
	classDefsOff := methodIdsOff + 8*uint32(len(d.methods))
	dataOff := classDefsOff + 32*uint32(len(b.Classes))

	var data bytes.Buffer
	data.Write(make([]byte, dataOff))

	// type lists
	paramsOff := map[string]uint32{}
	for _, k := range protoKeys {
		p := protos[k]
		if len(p.Params) == 0 {
			continue
		}
		align4(&data)
		paramsOff[k] = uint32(data.Len())
		data.Write(le(uint32(len(p.Params))))
		for _, t := range p.Params {
			data.Write(le(uint16(d.TypeIdx(t))))
		}
	}

	// code items
	for _, c := range b.Classes {
		for _, m := range c.Methods {
			if m.Code == nil {
				continue
			}
			align4(&data)
			d.codeOffs[c.Descriptor+"->"+m.Name] = uint32(data.Len())
			ins := uint16(len(m.Proto.Params))
			if m.Flags&0x8 == 0 { // not static
				ins++
			}
			regs := max(m.Registers, ins)
			data.Write(le([]uint16{regs, ins, 0, 0}))
			data.Write(le([]uint32{0, uint32(len(m.Code))}))
			data.Write(le(m.Code))
		}
	}

	// string data
	stringOffs := make([]uint32, len(d.strings))
	for i, s := range d.strings {
		stringOffs[i] = uint32(data.Len())
		uleb(&data, uint32(len(s)))
		data.WriteString(s)
		data.WriteByte(0)
	}

	// class data
	classDataOffs := make([]uint32, len(b.Classes))
	for i, c := range b.Classes {
		if len(c.Fields) == 0 && len(c.Methods) == 0 {
			continue
		}
		classDataOffs[i] = uint32(data.Len())
		var static, instance []Field
		for _, f := range c.Fields {
			if f.Static {
				static = append(static, f)
			} else {
				instance = append(instance, f)
			}
		}
		var direct, virtual []Method
		for _, m := range c.Methods {
			if m.Virtual {
				virtual = append(virtual, m)
			} else {
				direct = append(direct, m)
			}
		}
		uleb(&data, uint32(len(static)))
		uleb(&data, uint32(len(instance)))
		uleb(&data, uint32(len(direct)))
		uleb(&data, uint32(len(virtual)))
		for _, list := range [][]Field{static, instance} {
			sort.SliceStable(list, func(x, y int) bool {
				return d.FieldIdx(c.Descriptor, list[x].Name) < d.FieldIdx(c.Descriptor, list[y].Name)
			})
			var prev uint32
			for _, f := range list {
				idx := d.FieldIdx(c.Descriptor, f.Name)
				uleb(&data, idx-prev)
				uleb(&data, f.Flags)
				prev = idx
			}
		}
		for _, list := range [][]Method{direct, virtual} {
			sort.SliceStable(list, func(x, y int) bool {
				return d.MethodIdx(c.Descriptor, list[x].Name) < d.MethodIdx(c.Descriptor, list[y].Name)
			})
			var prev uint32
			for _, m := range list {
				idx := d.MethodIdx(c.Descriptor, m.Name)
				uleb(&data, idx-prev)
				uleb(&data, m.Flags)
				if m.Code == nil {
					uleb(&data, 0)
				} else {
					uleb(&data, d.codeOffs[c.Descriptor+"->"+m.Name])
				}
				prev = idx
			}
		}
	}
	align4(&data)

	out := data.Bytes()
	put32 := func(off, v uint32) { binary.LittleEndian.PutUint32(out[off:], v) }
	put16 := func(off uint32, v uint16) { binary.LittleEndian.PutUint16(out[off:], v) }

	for i, off := range stringOffs {
		put32(stringIdsOff+uint32(i)*4, off)
	}
	for i, t := range d.types {
		put32(typeIdsOff+uint32(i)*4, d.StringIdx(t))
	}
	for i, k := range protoKeys {
		p := protos[k]
		base := protoIdsOff + uint32(i)*12
		put32(base, d.StringIdx(p.shorty()))
		put32(base+4, d.TypeIdx(p.Return))
		put32(base+8, paramsOff[k])
	}
	for i, f := range d.fields {
		base := fieldIdsOff + uint32(i)*8
		put16(base, uint16(d.TypeIdx(f.class)))
		put16(base+2, uint16(d.TypeIdx(f.typ)))
		put32(base+4, d.StringIdx(f.name))
	}
	for i, m := range d.methods {
		base := methodIdsOff + uint32(i)*8
		put16(base, uint16(d.TypeIdx(m.class)))
		put16(base+2, uint16(protoIdx[m.proto.key()]))
		put32(base+4, d.StringIdx(m.name))
	}
	for i, c := range b.Classes {
		base := classDefsOff + uint32(i)*32
		put32(base, d.TypeIdx(c.Descriptor))
		put32(base+4, c.Flags)
		super := uint32(0xffffffff)
		if c.Super != "" {
			super = d.TypeIdx(c.Super)
		}
		put32(base+8, super)
		put32(base+16, 0xffffffff) // source_file_idx
		put32(base+24, classDataOffs[i])
	}

	version := b.Version
	if version == "" {
		version = "035"
	}
	copy(out, "dex\n"+version+"\x00")
	put32(0x20, uint32(len(out)))
	put32(0x24, 0x70)
	put32(0x28, 0x12345678)
	for i, v := range []uint32{
		uint32(len(d.strings)), stringIdsOff,
		uint32(len(d.types)), typeIdsOff,
		uint32(len(protoKeys)), protoIdsOff,
		uint32(len(d.fields)), fieldIdsOff,
		uint32(len(d.methods)), methodIdsOff,
		uint32(len(b.Classes)), classDefsOff,
		uint32(len(out)) - dataOff, dataOff,
	} {
		put32(0x38+uint32(i)*4, v)
	}
	sig := sha1.Sum(out[32:])
	copy(out[12:32], sig[:])
	put32(8, adler32.Checksum(out[12:]))

	d.Data = out
	return d
}
