package vdex

import (
	"bufio"
	"fmt"
	"io"

	"github.com/apex/log"
	"github.com/blacktop/vdex/pkg/dex"
)

const (
	reportHeader = "------- Vdex Deps Info -------"
	reportFooter = "----- EOF Vdex Deps Info -----"
)

// TypePair is an assignability dependency with its ids resolved to descriptors
type TypePair struct {
	Source      string `json:"source"      yaml:"source"`
	Destination string `json:"destination" yaml:"destination"`
}

// ClassDep is a class resolution with its type resolved to a descriptor
type ClassDep struct {
	Class       string `json:"class"                  yaml:"class"`
	Unresolved  bool   `json:"unresolved"             yaml:"unresolved"`
	AccessFlags uint16 `json:"access_flags,omitempty" yaml:"access_flags,omitempty"`
}

// MemberDep is a field or method resolution with its ids resolved to names
type MemberDep struct {
	Class          string `json:"class"                     yaml:"class"`
	Name           string `json:"name"                      yaml:"name"`
	Type           string `json:"type"                      yaml:"type"` // field type or method signature
	Unresolved     bool   `json:"unresolved"                yaml:"unresolved"`
	DeclaringClass string `json:"declaring_class,omitempty" yaml:"declaring_class,omitempty"`
	AccessFlags    uint16 `json:"access_flags,omitempty"    yaml:"access_flags,omitempty"`
}

// ResolvedDependencies is a DependencySet with every id resolved against its dex file
type ResolvedDependencies struct {
	DexIndex          int         `json:"dex_index"          yaml:"dex_index"`
	ExtraStrings      []string    `json:"extra_strings"      yaml:"extra_strings"`
	AssignableTypes   []TypePair  `json:"assignable_types"   yaml:"assignable_types"`
	UnassignableTypes []TypePair  `json:"unassignable_types" yaml:"unassignable_types"`
	Classes           []ClassDep  `json:"classes"            yaml:"classes"`
	Fields            []MemberDep `json:"fields"             yaml:"fields"`
	DirectMethods     []MemberDep `json:"direct_methods"     yaml:"direct_methods"`
	VirtualMethods    []MemberDep `json:"virtual_methods"    yaml:"virtual_methods"`
	InterfaceMethods  []MemberDep `json:"interface_methods"  yaml:"interface_methods"`
	UnverifiedClasses []string    `json:"unverified_classes" yaml:"unverified_classes"`
}

func (ds *DependencySet) typePairs(pairs []TypeAssignability, df *dex.File) ([]TypePair, error) {
	out := make([]TypePair, 0, len(pairs))
	for _, p := range pairs {
		src, err := ds.StringFromID(p.Source, df)
		if err != nil {
			return nil, err
		}
		dst, err := ds.StringFromID(p.Destination, df)
		if err != nil {
			return nil, err
		}
		out = append(out, TypePair{Source: src, Destination: dst})
	}
	return out, nil
}

func (ds *DependencySet) memberDep(m MemberResolution, class, name, typ string, df *dex.File) (MemberDep, error) {
	dep := MemberDep{Class: class, Name: name, Type: typ, Unresolved: true}
	if flags, ok := m.AccessFlags.ResolvedWith(); ok {
		declaring, err := ds.StringFromID(m.DeclaringClass, df)
		if err != nil {
			return MemberDep{}, err
		}
		dep.Unresolved = false
		dep.DeclaringClass = declaring
		dep.AccessFlags = flags
	}
	return dep, nil
}

func (ds *DependencySet) methods(kind MethodKind, df *dex.File) ([]MemberDep, error) {
	out := make([]MemberDep, 0, len(ds.Methods[kind]))
	for _, m := range ds.Methods[kind] {
		mid, err := df.MethodID(m.Idx)
		if err != nil {
			return nil, err
		}
		class, err := df.MethodDeclaringClassDescriptor(mid)
		if err != nil {
			return nil, err
		}
		name, err := df.MethodName(mid)
		if err != nil {
			return nil, err
		}
		sig, err := df.MethodSignature(mid)
		if err != nil {
			return nil, err
		}
		dep, err := ds.memberDep(m, class, name, sig, df)
		if err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, nil
}

// Resolve resolves every id of the set against df
func (ds *DependencySet) Resolve(dexIndex int, df *dex.File) (*ResolvedDependencies, error) {
	var err error
	rd := &ResolvedDependencies{DexIndex: dexIndex, ExtraStrings: ds.ExtraStrings}

	if rd.AssignableTypes, err = ds.typePairs(ds.AssignableTypes, df); err != nil {
		return nil, err
	}
	if rd.UnassignableTypes, err = ds.typePairs(ds.UnassignableTypes, df); err != nil {
		return nil, err
	}

	for _, c := range ds.Classes {
		desc, err := df.TypeDescriptor(c.TypeIdx)
		if err != nil {
			return nil, err
		}
		dep := ClassDep{Class: desc, Unresolved: true}
		if flags, ok := c.AccessFlags.ResolvedWith(); ok {
			dep.Unresolved = false
			dep.AccessFlags = flags
		}
		rd.Classes = append(rd.Classes, dep)
	}

	for _, fr := range ds.Fields {
		fid, err := df.FieldID(fr.Idx)
		if err != nil {
			return nil, err
		}
		class, err := df.FieldDeclaringClassDescriptor(fid)
		if err != nil {
			return nil, err
		}
		name, err := df.FieldName(fid)
		if err != nil {
			return nil, err
		}
		typ, err := df.FieldTypeDescriptor(fid)
		if err != nil {
			return nil, err
		}
		dep, err := ds.memberDep(fr, class, name, typ, df)
		if err != nil {
			return nil, err
		}
		rd.Fields = append(rd.Fields, dep)
	}

	if rd.DirectMethods, err = ds.methods(DirectMethod, df); err != nil {
		return nil, err
	}
	if rd.VirtualMethods, err = ds.methods(VirtualMethod, df); err != nil {
		return nil, err
	}
	if rd.InterfaceMethods, err = ds.methods(InterfaceMethod, df); err != nil {
		return nil, err
	}

	for _, typeIdx := range ds.UnverifiedClasses {
		desc, err := df.TypeDescriptor(typeIdx)
		if err != nil {
			return nil, err
		}
		rd.UnverifiedClasses = append(rd.UnverifiedClasses, desc)
	}

	return rd, nil
}

// Render writes the text report of the set for dex file dexIndex
func (ds *DependencySet) Render(w io.Writer, dexIndex int, df *dex.File) error {
	rd, err := ds.Resolve(dexIndex, df)
	if err != nil {
		return err
	}
	return rd.Render(w)
}

// Render writes the text report of the resolved set
func (rd *ResolvedDependencies) Render(w io.Writer) error {
	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) { fmt.Fprintf(bw, format+"\n", args...) }

	p("dex file #%d", rd.DexIndex)

	p(" extra strings: number_of_strings=%d", len(rd.ExtraStrings))
	for i, s := range rd.ExtraStrings {
		p("  %04d: '%s'", i, s)
	}

	p(" assignable type sets: number_of_sets=%d", len(rd.AssignableTypes))
	for i, t := range rd.AssignableTypes {
		p("  %04d: '%s' must be assignable to '%s'", i, t.Source, t.Destination)
	}
	p(" unassignable type sets: number_of_sets=%d", len(rd.UnassignableTypes))
	for i, t := range rd.UnassignableTypes {
		p("  %04d: '%s' must not be assignable to '%s'", i, t.Source, t.Destination)
	}

	p(" class dependencies: number_of_classes=%d", len(rd.Classes))
	for i, c := range rd.Classes {
		if c.Unresolved {
			p("  %04d: '%s' is expected to be unresolved", i, c.Class)
		} else {
			p("  %04d: '%s' is expected to be resolved with access flags '%d'", i, c.Class, c.AccessFlags)
		}
	}

	p(" field dependencies: number_of_fields=%d", len(rd.Fields))
	for i, f := range rd.Fields {
		if f.Unresolved {
			p("  %04d: '%s'->'%s':'%s' is expected to be unresolved", i, f.Class, f.Name, f.Type)
		} else {
			p("  %04d: '%s'->'%s':'%s' is expected to be in class '%s' and have the access flags '%d'",
				i, f.Class, f.Name, f.Type, f.DeclaringClass, f.AccessFlags)
		}
	}

	for _, group := range []struct {
		kind MethodKind
		deps []MemberDep
	}{
		{DirectMethod, rd.DirectMethods},
		{VirtualMethod, rd.VirtualMethods},
		{InterfaceMethod, rd.InterfaceMethods},
	} {
		p(" %s method dependencies: number_of_methods=%d", group.kind, len(group.deps))
		for i, m := range group.deps {
			if m.Unresolved {
				p("  %04d: '%s'->'%s':'%s' is expected to be unresolved", i, m.Class, m.Name, m.Type)
			} else {
				p("  %04d: '%s'->'%s':'%s' is expected to be in class '%s', have the access flags '%d', and be of kind '%s'",
					i, m.Class, m.Name, m.Type, m.DeclaringClass, m.AccessFlags, group.kind)
			}
		}
	}

	p(" unverified classes: number_of_classes=%d", len(rd.UnverifiedClasses))
	for i, c := range rd.UnverifiedClasses {
		p("  %04d: '%s' is expected to be verified at runtime", i, c)
	}

	return bw.Flush()
}

// ResolveDependencies decodes the verifier dependencies of f and resolves them against
// the embedded dex files. Empty dependency data yields a nil result.
func ResolveDependencies(f *File) ([]*ResolvedDependencies, error) {
	deps, err := f.Dependencies()
	if err != nil {
		return nil, err
	}
	if deps == nil {
		return nil, nil
	}
	var out []*ResolvedDependencies
	var offset uint32
	for i := range deps {
		buf := f.NextDexFile(&offset)
		if buf == nil {
			return nil, fmt.Errorf("%w: failed to extract dex file #%d buffer", ErrInvalidDexFile, i)
		}
		df, err := dex.Parse(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: dex file #%d: %v", ErrInvalidDexFile, i, err)
		}
		rd, err := deps[i].Resolve(i, df)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve dependencies of dex file #%d: %w", i, err)
		}
		out = append(out, rd)
	}
	return out, nil
}

// RenderDependencyReport writes the verifier dependency report of every dex file in f.
// Empty dependency data is logged and renders nothing.
func RenderDependencyReport(w io.Writer, f *File) error {
	resolved, err := ResolveDependencies(f)
	if err != nil {
		return err
	}
	if resolved == nil {
		log.Warn("Empty verified dependency data")
		return nil
	}
	if _, err := fmt.Fprintln(w, reportHeader); err != nil {
		return err
	}
	for _, rd := range resolved {
		if err := rd.Render(w); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w, reportFooter)
	return err
}
