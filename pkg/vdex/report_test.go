package vdex

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aymanbagabas/go-udiff"
	"github.com/blacktop/vdex/pkg/dex"
	"github.com/blacktop/vdex/pkg/dex/dextest"
	"github.com/blacktop/vdex/pkg/vdex/vdextest"
)

const goldenReport = `------- Vdex Deps Info -------
dex file #0
 extra strings: number_of_strings=1
  0000: 'Lcom/extra/Missing;'
 assignable type sets: number_of_sets=1
  0000: 'Lcom/example/Foo;' must be assignable to 'Ljava/lang/Object;'
 unassignable type sets: number_of_sets=1
  0000: 'Lcom/extra/Missing;' must not be assignable to 'Ljava/lang/String;'
 class dependencies: number_of_classes=2
  0000: 'Ljava/lang/System;' is expected to be resolved with access flags '1'
  0001: 'Ljava/lang/String;' is expected to be unresolved
 field dependencies: number_of_fields=2
  0000: 'Ljava/lang/System;'->'out':'Ljava/io/PrintStream;' is expected to be in class 'Ljava/lang/System;' and have the access flags '9'
  0001: 'Lcom/example/Foo;'->'count':'I' is expected to be unresolved
 direct method dependencies: number_of_methods=1
  0000: 'Ljava/lang/Object;'->'<init>':'()V' is expected to be in class 'Ljava/lang/Object;', have the access flags '1', and be of kind 'direct'
 virtual method dependencies: number_of_methods=1
  0000: 'Lcom/example/Foo;'->'bar':'(I)V' is expected to be unresolved
 interface method dependencies: number_of_methods=0
 unverified classes: number_of_classes=1
  0000: 'Lcom/example/Foo;' is expected to be verified at runtime
----- EOF Vdex Deps Info -----
`

func reportFixture(t *testing.T) []byte {
	t.Helper()
	d := (&dextest.Builder{
		Classes: []dextest.Class{{
			Descriptor: "Lcom/example/Foo;",
			Super:      "Ljava/lang/Object;",
			Fields:     []dextest.Field{{Name: "count", Type: "I"}},
			Methods: []dextest.Method{
				{Name: "bar", Proto: dextest.Proto{Return: "V", Params: []string{"I"}}, Virtual: true, Flags: 0x1, Code: []uint16{0x000e}},
			},
		}},
		Types:   []string{"Ljava/lang/String;"},
		Fields:  []dextest.Ref{{Class: "Ljava/lang/System;", Name: "out", Type: "Ljava/io/PrintStream;"}},
		Methods: []dextest.Ref{{Class: "Ljava/lang/Object;", Name: "<init>", Proto: dextest.Proto{Return: "V"}}},
	}).Build()

	deps := vdextest.Deps{
		Strings:      []string{"Lcom/extra/Missing;"},
		Assignable:   []vdextest.TypePair{{Dst: d.StringIdx("Ljava/lang/Object;"), Src: d.StringIdx("Lcom/example/Foo;")}},
		Unassignable: []vdextest.TypePair{{Dst: d.StringIdx("Ljava/lang/String;"), Src: d.NumStrings()}},
		Classes: []vdextest.Class{
			{TypeIdx: d.TypeIdx("Ljava/lang/System;"), Flags: 0x1},
			{TypeIdx: d.TypeIdx("Ljava/lang/String;"), Flags: vdextest.Unresolved},
		},
		Fields: []vdextest.Member{
			{Idx: d.FieldIdx("Ljava/lang/System;", "out"), Flags: 0x9, DeclaringClass: d.StringIdx("Ljava/lang/System;")},
			{Idx: d.FieldIdx("Lcom/example/Foo;", "count"), Flags: vdextest.Unresolved},
		},
		Direct:     []vdextest.Member{{Idx: d.MethodIdx("Ljava/lang/Object;", "<init>"), Flags: 0x1, DeclaringClass: d.StringIdx("Ljava/lang/Object;")}},
		Virtual:    []vdextest.Member{{Idx: d.MethodIdx("Lcom/example/Foo;", "bar"), Flags: vdextest.Unresolved}},
		Unverified: []uint32{d.TypeIdx("Lcom/example/Foo;")},
	}
	return vdextest.Vdex{Dex: [][]byte{d.Data}, Deps: deps.Encode(nil)}.Build()
}

func TestRenderDependencyReport(t *testing.T) {
	f, err := Parse(reportFixture(t))
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := RenderDependencyReport(&buf, f); err != nil {
		t.Fatalf("RenderDependencyReport() error = %v", err)
	}
	if got := buf.String(); got != goldenReport {
		t.Errorf("report mismatch:\n%s", udiff.Unified("want", "got", goldenReport, got))
	}

	// same bytes, same report
	var again bytes.Buffer
	if err := RenderDependencyReport(&again, f); err != nil {
		t.Fatal(err)
	}
	if again.String() != buf.String() {
		t.Errorf("report is not deterministic:\n%s", udiff.Unified("first", "second", buf.String(), again.String()))
	}
}

func TestRenderDependencyReportEmpty(t *testing.T) {
	d := (&dextest.Builder{Classes: []dextest.Class{{Descriptor: "LFoo;"}}}).Build()
	f, err := Parse(vdextest.Vdex{Dex: [][]byte{d.Data}}.Build())
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := RenderDependencyReport(&buf, f); err != nil {
		t.Fatalf("empty deps should not fail: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("empty deps rendered %q", buf.String())
	}
}

func TestRenderRoundTripBlob(t *testing.T) {
	d := (&dextest.Builder{
		Types: []string{"LA;", "LB;", "LC;", "LD;", "LE;", "LF;", "LG;"},
	}).Build()
	df, err := dex.Parse(d.Data)
	if err != nil {
		t.Fatal(err)
	}
	sets, err := DecodeDependencies(roundTripBlob, 1)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := sets[0].Render(&buf, 0, df); err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	type3, _ := df.TypeDescriptor(3)
	type5, _ := df.TypeDescriptor(5)
	str0, _ := df.String(0)
	str1, _ := df.String(1)
	for _, want := range []string{
		"  0000: 'Foo'\n  0001: 'Bar'\n",
		fmt.Sprintf("  0000: '%s' must be assignable to '%s'\n", str0, str1),
		fmt.Sprintf("  0000: '%s' is expected to be unresolved\n", type3),
		fmt.Sprintf("  0000: '%s' is expected to be verified at runtime\n", type5),
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("report is missing %q:\n%s", want, buf.String())
		}
	}
}

func TestRenderBadStringID(t *testing.T) {
	d := (&dextest.Builder{Types: []string{"LA;"}}).Build()
	df, err := dex.Parse(d.Data)
	if err != nil {
		t.Fatal(err)
	}
	ds := &DependencySet{AssignableTypes: []TypeAssignability{{Destination: 0, Source: d.NumStrings()}}}
	if err := ds.Render(&bytes.Buffer{}, 0, df); err == nil {
		t.Error("expected an error for a string id past the extra strings")
	}
}

func TestRenderDependencyReportMissingDex(t *testing.T) {
	dex0, dex1 := smallDex("LA;"), smallDex("LB;")
	data := vdextest.Vdex{
		Dex:  [][]byte{dex0, dex1},
		Deps: vdextest.EncodeDeps(vdextest.Deps{}, vdextest.Deps{}),
	}.Build()
	// dex #1 claims more bytes than the dex section holds
	putU32(data[HeaderSize+2*4+len(dex0)+0x20:], uint32(len(dex1)+0x100))

	f, err := Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	err = RenderDependencyReport(&buf, f)
	if !errors.Is(err, ErrInvalidDexFile) {
		t.Fatalf("RenderDependencyReport() error = %v, want ErrInvalidDexFile", err)
	}
	if buf.Len() != 0 {
		t.Errorf("partial report written:\n%s", buf.String())
	}
	if _, err := ResolveDependencies(f); !errors.Is(err, ErrInvalidDexFile) {
		t.Errorf("ResolveDependencies() error = %v, want ErrInvalidDexFile", err)
	}
}
