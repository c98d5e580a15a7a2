package vdex

import (
	"fmt"

	"github.com/blacktop/vdex/internal/buffer"
	"github.com/blacktop/vdex/pkg/dex"
)

// unresolvedMarker is the access flags value of a class or member expected to stay unresolved
const unresolvedMarker = 0xffff

// AccessFlags are the access flags recorded for a resolution.
// The 16-bit value 0xffff marks a class or member that is expected to be unresolved.
type AccessFlags uint32

// Unresolved reports whether the dependency is expected to stay unresolved
func (a AccessFlags) Unresolved() bool {
	return uint16(a) == unresolvedMarker
}

// ResolvedWith returns the expected access flags and whether the dependency is expected to resolve
func (a AccessFlags) ResolvedWith() (uint16, bool) {
	if a.Unresolved() {
		return 0, false
	}
	return uint16(a), true
}

// TypeAssignability is a pair of ids in the combined string id space
type TypeAssignability struct {
	Destination uint32
	Source      uint32
}

// ClassResolution records how a type id is expected to resolve
type ClassResolution struct {
	TypeIdx     uint32
	AccessFlags AccessFlags
}

// MemberResolution records how a field or method id is expected to resolve.
// DeclaringClass is a combined string id, only meaningful when resolved.
type MemberResolution struct {
	Idx            uint32
	AccessFlags    AccessFlags
	DeclaringClass uint32
}

// MethodKind is the resolution kind of a method dependency
type MethodKind uint8

const (
	DirectMethod MethodKind = iota
	VirtualMethod
	InterfaceMethod
)

func (k MethodKind) String() string {
	switch k {
	case DirectMethod:
		return "direct"
	case VirtualMethod:
		return "virtual"
	case InterfaceMethod:
		return "interface"
	}
	return fmt.Sprintf("MethodKind(%d)", k)
}

// DependencySet holds the verifier dependencies recorded for one dex file
type DependencySet struct {
	ExtraStrings      []string
	AssignableTypes   []TypeAssignability
	UnassignableTypes []TypeAssignability
	Classes           []ClassResolution
	Fields            []MemberResolution
	Methods           [3][]MemberResolution // indexed by MethodKind
	UnverifiedClasses []uint32
}

// DirectMethods returns the direct method resolutions
func (ds *DependencySet) DirectMethods() []MemberResolution { return ds.Methods[DirectMethod] }

// VirtualMethods returns the virtual method resolutions
func (ds *DependencySet) VirtualMethods() []MemberResolution { return ds.Methods[VirtualMethod] }

// InterfaceMethods returns the interface method resolutions
func (ds *DependencySet) InterfaceMethods() []MemberResolution { return ds.Methods[InterfaceMethod] }

type depsDecoder struct {
	r        *buffer.Reader
	dexIndex int
}

func (d *depsDecoder) fail(section string, err error) error {
	return fmt.Errorf("%w: dex file #%d %s at offset %#x: %v", ErrMalformedMetadata, d.dexIndex, section, d.r.Offset(), err)
}

func (d *depsDecoder) uleb(section string) (uint32, error) {
	v, err := d.r.ULEB128()
	if err != nil {
		return 0, d.fail(section, err)
	}
	return v, nil
}

func (d *depsDecoder) count(section string) (uint32, error) {
	n, err := d.uleb(section + " count")
	if err != nil {
		return 0, err
	}
	// every element takes at least one byte
	if uint64(n) > uint64(d.r.Remaining()) {
		return 0, d.fail(section, fmt.Errorf("%d elements do not fit in %d bytes", n, d.r.Remaining()))
	}
	return n, nil
}

func (d *depsDecoder) strings() ([]string, error) {
	n, err := d.count("extra strings")
	if err != nil {
		return nil, err
	}
	strs := make([]string, 0, n)
	for range n {
		s, err := d.r.CString()
		if err != nil {
			return nil, d.fail("extra strings", err)
		}
		strs = append(strs, s)
	}
	return strs, nil
}

func (d *depsDecoder) typeSet(section string) ([]TypeAssignability, error) {
	n, err := d.count(section)
	if err != nil {
		return nil, err
	}
	set := make([]TypeAssignability, 0, n)
	for range n {
		dst, err := d.uleb(section)
		if err != nil {
			return nil, err
		}
		src, err := d.uleb(section)
		if err != nil {
			return nil, err
		}
		set = append(set, TypeAssignability{Destination: dst, Source: src})
	}
	return set, nil
}

func (d *depsDecoder) classes() ([]ClassResolution, error) {
	n, err := d.count("class resolutions")
	if err != nil {
		return nil, err
	}
	classes := make([]ClassResolution, 0, n)
	for range n {
		typeIdx, err := d.uleb("class resolutions")
		if err != nil {
			return nil, err
		}
		flags, err := d.uleb("class resolutions")
		if err != nil {
			return nil, err
		}
		classes = append(classes, ClassResolution{TypeIdx: typeIdx, AccessFlags: AccessFlags(flags)})
	}
	return classes, nil
}

func (d *depsDecoder) members(section string) ([]MemberResolution, error) {
	n, err := d.count(section)
	if err != nil {
		return nil, err
	}
	members := make([]MemberResolution, 0, n)
	for range n {
		var vals [3]uint32
		for i := range vals {
			if vals[i], err = d.uleb(section); err != nil {
				return nil, err
			}
		}
		members = append(members, MemberResolution{Idx: vals[0], AccessFlags: AccessFlags(vals[1]), DeclaringClass: vals[2]})
	}
	return members, nil
}

func (d *depsDecoder) unverified() ([]uint32, error) {
	n, err := d.count("unverified classes")
	if err != nil {
		return nil, err
	}
	types := make([]uint32, 0, n)
	for range n {
		typeIdx, err := d.uleb("unverified classes")
		if err != nil {
			return nil, err
		}
		types = append(types, typeIdx)
	}
	return types, nil
}

func (d *depsDecoder) decode() (*DependencySet, error) {
	var (
		ds  DependencySet
		err error
	)
	if ds.ExtraStrings, err = d.strings(); err != nil {
		return nil, err
	}
	if ds.AssignableTypes, err = d.typeSet("assignable type sets"); err != nil {
		return nil, err
	}
	if ds.UnassignableTypes, err = d.typeSet("unassignable type sets"); err != nil {
		return nil, err
	}
	if ds.Classes, err = d.classes(); err != nil {
		return nil, err
	}
	if ds.Fields, err = d.members("field resolutions"); err != nil {
		return nil, err
	}
	for kind := DirectMethod; kind <= InterfaceMethod; kind++ {
		if ds.Methods[kind], err = d.members(kind.String() + " method resolutions"); err != nil {
			return nil, err
		}
	}
	if ds.UnverifiedClasses, err = d.unverified(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// DecodeDependencies decodes the verifier dependency blob into one DependencySet per dex file.
// An empty blob is not an error and yields a nil result.
func DecodeDependencies(blob []byte, numDexFiles uint32) ([]*DependencySet, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	d := &depsDecoder{r: buffer.NewReader(blob)}
	sets := make([]*DependencySet, 0, numDexFiles)
	for i := range numDexFiles {
		d.dexIndex = int(i)
		ds, err := d.decode()
		if err != nil {
			return nil, err
		}
		sets = append(sets, ds)
	}
	if d.r.Offset() > len(blob) {
		return nil, fmt.Errorf("%w: decoder ended at %#x past the blob end %#x", ErrMalformedMetadata, d.r.Offset(), len(blob))
	}
	return sets, nil
}

// Dependencies decodes the verifier dependency section of f
func (f *File) Dependencies() ([]*DependencySet, error) {
	return DecodeDependencies(f.VerifierDepsData(), f.NumberOfDexFiles)
}

// StringFromID resolves id in the combined string id space: ids below the dex string
// table size index the dex file, the rest index ExtraStrings.
func (ds *DependencySet) StringFromID(id uint32, df *dex.File) (string, error) {
	n := df.StringIdsSize
	if id < n {
		return df.String(id)
	}
	extra := uint64(id) - uint64(n)
	if extra >= uint64(len(ds.ExtraStrings)) {
		return "", fmt.Errorf("%w: string id %d is past the %d dex strings and %d extra strings",
			ErrMalformedMetadata, id, n, len(ds.ExtraStrings))
	}
	return ds.ExtraStrings[extra], nil
}
