package vdex

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/blacktop/vdex/pkg/dex"
	"github.com/blacktop/vdex/pkg/dex/dextest"
	"github.com/blacktop/vdex/pkg/vdex/vdextest"
)

const fooClass = "Lcom/example/Foo;"

// quickened is a dex file in its original form, the same file as the compiler
// quickened it (keeping the original checksum), and the frames that undo it.
type quickened struct {
	original []byte
	quick    []byte
	frames   [][]byte
}

func quickenedFixture(t *testing.T) quickened {
	t.Helper()
	b := &dextest.Builder{
		Classes: []dextest.Class{{
			Descriptor: fooClass,
			Super:      "Ljava/lang/Object;",
			Fields:     []dextest.Field{{Name: "value", Type: "I", Flags: 0x2}},
			Methods: []dextest.Method{
				{Name: "<init>", Proto: dextest.Proto{Return: "V"}, Flags: 0x10001, Code: []uint16{0x000e}},
				{Name: "abstractish", Proto: dextest.Proto{Return: "V"}, Virtual: true, Flags: 0x101},
				{Name: "call", Proto: dextest.Proto{Return: "V"}, Virtual: true, Flags: 0x1, Registers: 2,
					Code: []uint16{0x106e, 0x0000, 0x0001, 0x000e}},
				{Name: "cast", Proto: dextest.Proto{Return: "V"}, Virtual: true, Flags: 0x1, Registers: 2,
					Code: []uint16{0x011f, 0x0000, 0x000e}},
				{Name: "get", Proto: dextest.Proto{Return: "I"}, Virtual: true, Flags: 0x1, Registers: 2,
					Code: []uint16{0x1052, 0x0000, 0x000f}},
			},
		}},
		Types: []string{"Ljava/lang/String;"},
	}
	d := b.Build()
	getIdx := d.MethodIdx(fooClass, "get")
	fieldIdx := d.FieldIdx(fooClass, "value")
	typeIdx := d.TypeIdx("Ljava/lang/String;")

	// fill in the real indices and re-checksum the original
	d.PatchUnit(fooClass, "call", 1, uint16(getIdx))
	d.PatchUnit(fooClass, "cast", 1, uint16(typeIdx))
	d.PatchUnit(fooClass, "get", 1, uint16(fieldIdx))
	df, err := dex.Parse(d.Data)
	if err != nil {
		t.Fatal(err)
	}
	df.RepairChecksum()
	original := append([]byte(nil), d.Data...)

	// quicken in place without touching the checksum
	d.PatchUnit(fooClass, "<init>", 0, 0x0073)
	d.PatchUnit(fooClass, "call", 0, 0x10e9)
	d.PatchUnit(fooClass, "call", 1, 7) // vtable index
	d.PatchUnit(fooClass, "call", 3, 0x0073)
	d.PatchUnit(fooClass, "cast", 0, 0x0000)
	d.PatchUnit(fooClass, "cast", 1, 0x0000)
	d.PatchUnit(fooClass, "get", 0, 0x10e3)
	d.PatchUnit(fooClass, "get", 1, 8) // field offset

	// traversal order: <init> (direct), then call, cast, get (virtual, by method idx)
	return quickened{
		original: original,
		quick:    append([]byte(nil), d.Data...),
		frames: [][]byte{
			vdextest.Frame(),
			vdextest.Frame(vdextest.Pair{Pc: 0, Index: getIdx}),
			vdextest.Frame(vdextest.Pair{Pc: 0, Index: 1}, vdextest.Pair{Pc: 0, Index: typeIdx}),
			vdextest.Frame(vdextest.Pair{Pc: 0, Index: fieldIdx}),
		},
	}
}

func TestExtractUnquicken(t *testing.T) {
	q := quickenedFixture(t)
	f, err := Parse(vdextest.Vdex{
		Dex:        [][]byte{q.quick},
		Deps:       vdextest.EncodeDeps(vdextest.Deps{}),
		Quickening: vdextest.Quickening(q.frames...),
	}.Build())
	if err != nil {
		t.Fatal(err)
	}

	w := &MemWriter{}
	n, err := Extract(f, ExtractOptions{Name: "/system/framework/oat/arm64/base.vdex", Unquicken: true, Writer: w})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Extract() = %d, want 1", n)
	}
	got, ok := w.Files["base_classes.dex"]
	if !ok {
		t.Fatalf("missing output, have %v", w.Files)
	}
	if !bytes.Equal(got, q.original) {
		t.Error("unquickened dex does not match the original")
	}
}

func TestExtractWithoutUnquicken(t *testing.T) {
	q := quickenedFixture(t)
	f, err := Parse(vdextest.Vdex{
		Dex:        [][]byte{q.quick},
		Quickening: vdextest.Quickening(q.frames...),
	}.Build())
	if err != nil {
		t.Fatal(err)
	}

	w := &MemWriter{}
	if _, err := Extract(f, ExtractOptions{Name: "base.vdex", Writer: w}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	got := w.Files["base_classes.dex"]
	df, err := dex.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, ok := df.VerifyChecksum(); !ok {
		t.Error("checksum was not repaired")
	}
	// the bytecode stays quickened, only the checksum changes
	if !bytes.Equal(got[12:], q.quick[12:]) {
		t.Error("bytecode was modified without unquickening")
	}
}

// balanced builds a vdex of two dex files whose methods need no quickening entries,
// so every frame is empty and only the frame count matters.
func balanced(t *testing.T, frames int) *File {
	t.Helper()
	var dexFiles [][]byte
	for _, cls := range []string{"LA;", "LB;"} {
		d := (&dextest.Builder{
			Classes: []dextest.Class{{
				Descriptor: cls,
				Super:      "Ljava/lang/Object;",
				Methods: []dextest.Method{
					{Name: "<init>", Proto: dextest.Proto{Return: "V"}, Flags: 0x10001, Code: []uint16{0x000e}},
					{Name: "native", Proto: dextest.Proto{Return: "V"}, Virtual: true, Flags: 0x101},
					{Name: "run", Proto: dextest.Proto{Return: "V"}, Virtual: true, Flags: 0x1, Code: []uint16{0x000e}},
				},
			}},
		}).Build()
		d.PatchUnit(cls, "<init>", 0, 0x0073)
		d.PatchUnit(cls, "run", 0, 0x0073)
		dexFiles = append(dexFiles, d.Data)
	}
	empty := make([][]byte, frames)
	for i := range empty {
		empty[i] = vdextest.Frame()
	}
	f, err := Parse(vdextest.Vdex{Dex: dexFiles, Quickening: vdextest.Quickening(empty...)}.Build())
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestExtractQuickeningBalance(t *testing.T) {
	tests := []struct {
		name    string
		frames  int
		wantErr error
	}{
		{"exact", 4, nil},
		{"one frame missing", 3, ErrBlobMisalignment},
		{"one frame duplicated", 5, ErrBlobMisalignment},
		{"no frames left for the second dex", 2, ErrBlobMisalignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := balanced(t, tt.frames)
			n, err := Extract(f, ExtractOptions{Name: "base.vdex", Unquicken: true, Writer: &MemWriter{}})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Extract() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && n != 2 {
				t.Errorf("Extract() = %d, want 2", n)
			}
		})
	}
}

func TestQuickeningStream(t *testing.T) {
	blob := vdextest.Quickening([]byte{1, 2, 3}, nil, []byte{4})
	qs := newQuickeningStream(blob)
	for i, want := range [][]byte{{1, 2, 3}, {}, {4}} {
		got, err := qs.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %v, want %v", i, got, want)
		}
	}
	if err := qs.Finish(); err != nil {
		t.Errorf("Finish() = %v", err)
	}
	if _, err := qs.Next(); !errors.Is(err, ErrBlobMisalignment) {
		t.Errorf("Next() past the end = %v", err)
	}

	// length prefix claims more than is left
	qs = newQuickeningStream([]byte{0x10, 0, 0, 0, 1})
	if _, err := qs.Next(); !errors.Is(err, ErrBlobMisalignment) {
		t.Errorf("overlong frame = %v", err)
	}
	qs = newQuickeningStream([]byte{0, 0, 0, 0, 0xaa})
	qs.Next()
	if err := qs.Finish(); !errors.Is(err, ErrBlobMisalignment) {
		t.Errorf("Finish() with leftovers = %v", err)
	}
}

func TestCodeMethodsOrder(t *testing.T) {
	q := quickenedFixture(t)
	df, err := dex.Parse(q.quick)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for m, err := range codeMethods(df) {
		if err != nil {
			t.Fatal(err)
		}
		mid, _ := df.MethodID(m.MethodIdx)
		name, _ := df.MethodName(mid)
		names = append(names, m.Kind.String()+":"+name)
	}
	want := []string{"direct:<init>", "virtual:call", "virtual:cast", "virtual:get"}
	if len(names) != len(want) {
		t.Fatalf("codeMethods() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("codeMethods()[%d] = %s, want %s", i, names[i], want[i])
		}
	}
}

func TestExtractChecksum(t *testing.T) {
	build := func(t *testing.T) *File {
		// stored checksum covers the quickened bytes, so unquickening breaks it
		d := (&dextest.Builder{
			Classes: []dextest.Class{{
				Descriptor: "LA;",
				Methods: []dextest.Method{
					{Name: "run", Proto: dextest.Proto{Return: "V"}, Flags: 0x9, Code: []uint16{0x000e}},
				},
			}},
		}).Build()
		d.PatchUnit("LA;", "run", 0, 0x0073)
		df, err := dex.Parse(d.Data)
		if err != nil {
			t.Fatal(err)
		}
		df.RepairChecksum()
		f, err := Parse(vdextest.Vdex{Dex: [][]byte{d.Data}, Quickening: vdextest.Quickening(vdextest.Frame())}.Build())
		if err != nil {
			t.Fatal(err)
		}
		return f
	}

	t.Run("mismatch", func(t *testing.T) {
		_, err := Extract(build(t), ExtractOptions{Name: "base.vdex", Unquicken: true, Writer: &MemWriter{}})
		if !errors.Is(err, ErrChecksumMismatch) {
			t.Fatalf("Extract() error = %v, want ErrChecksumMismatch", err)
		}
		var cerr *ChecksumError
		if !errors.As(err, &cerr) || cerr.DexIndex != 0 || cerr.Stored == cerr.Computed {
			t.Errorf("unexpected checksum error detail %+v", cerr)
		}
	})

	t.Run("ignore crc", func(t *testing.T) {
		w := &MemWriter{}
		if _, err := Extract(build(t), ExtractOptions{Name: "base.vdex", Unquicken: true, IgnoreCRC: true, Writer: w}); err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
		df, err := dex.Parse(w.Files["base_classes.dex"])
		if err != nil {
			t.Fatal(err)
		}
		stored, computed, ok := df.VerifyChecksum()
		if !ok {
			t.Fatalf("repaired checksum %#x does not match %#x", stored, computed)
		}
		if df.RepairChecksum() != stored {
			t.Error("repair is not idempotent")
		}
	})
}

func TestExtractSkipsInvalidDex(t *testing.T) {
	h := memory.New()
	prev := log.Log.(*log.Logger).Handler
	log.SetHandler(h)
	t.Cleanup(func() { log.SetHandler(prev) })

	dexFiles := [][]byte{smallDex("LA;"), smallDex("LB;"), smallDex("LC;")}
	copy(dexFiles[1], "dey\n")
	f, err := Parse(vdextest.Vdex{Dex: dexFiles}.Build())
	if err != nil {
		t.Fatal(err)
	}
	w := &MemWriter{}
	n, err := Extract(f, ExtractOptions{Name: "boot.vdex", Writer: w})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if n != 3 {
		t.Errorf("Extract() = %d, want 3", n)
	}
	if len(w.Files) != 2 {
		t.Fatalf("wrote %d files, want 2", len(w.Files))
	}
	for _, name := range []string{"boot_classes.dex", "boot_classes3.dex"} {
		if _, ok := w.Files[name]; !ok {
			t.Errorf("missing %s", name)
		}
	}

	var skips int
	for _, e := range h.Entries {
		if e.Level != log.ErrorLevel {
			continue
		}
		if !strings.Contains(e.Message, "boot_classes2.dex") {
			t.Errorf("unexpected error entry %q", e.Message)
		}
		skips++
	}
	if skips != 1 {
		t.Errorf("logged %d skip(s), want 1", skips)
	}
}

func TestExtractForgedClassData(t *testing.T) {
	data := smallDex("LA;")
	df, err := dex.Parse(data)
	if err != nil {
		t.Fatal(err)
	}
	def, err := df.ClassDef(0)
	if err != nil {
		t.Fatal(err)
	}
	copy(data[def.ClassDataOff:], []byte{0xff, 0xff, 0xff, 0xff, 0x0f, 0x00, 0x00, 0x00})

	f, err := Parse(vdextest.Vdex{Dex: [][]byte{data}}.Build())
	if err != nil {
		t.Fatal(err)
	}
	for _, unquicken := range []bool{false, true} {
		_, err := Extract(f, ExtractOptions{Name: "boot.vdex", Unquicken: unquicken, IgnoreCRC: true})
		if !errors.Is(err, dex.ErrTruncated) {
			t.Errorf("Extract(unquicken=%v) error = %v, want dex.ErrTruncated", unquicken, err)
		}
	}
}

func TestExtractRewriteFailure(t *testing.T) {
	q := quickenedFixture(t)
	frames := append([][]byte(nil), q.frames...)
	frames[1] = vdextest.Frame(vdextest.Pair{Pc: 1, Index: 0}) // wrong pc
	f, err := Parse(vdextest.Vdex{Dex: [][]byte{q.quick}, Quickening: vdextest.Quickening(frames...)}.Build())
	if err != nil {
		t.Fatal(err)
	}
	_, err = Extract(f, ExtractOptions{Name: "base.vdex", Unquicken: true})
	if !errors.Is(err, ErrRewriteFailure) {
		t.Fatalf("Extract() error = %v, want ErrRewriteFailure", err)
	}
	var rerr *RewriteError
	if !errors.As(err, &rerr) {
		t.Fatalf("error %v is not a *RewriteError", err)
	}
	if rerr.Method != fooClass+"->call()V" {
		t.Errorf("RewriteError.Method = %q", rerr.Method)
	}
}

type failingWriter struct{}

func (failingWriter) WriteDex(string, int, []byte) error { return errors.New("disk full") }

func TestExtractOutputFailure(t *testing.T) {
	f, err := Parse(vdextest.Vdex{Dex: [][]byte{smallDex("LA;")}}.Build())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Extract(f, ExtractOptions{Name: "base.vdex", Writer: failingWriter{}}); !errors.Is(err, ErrOutputFailure) {
		t.Errorf("Extract() error = %v, want ErrOutputFailure", err)
	}
}

func TestDirWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := DirWriter{Dir: dir}
	if err := w.WriteDex("/data/app/base.vdex", 1, []byte("dex")); err != nil {
		t.Fatalf("WriteDex() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "base_classes2.dex"))
	if err != nil || string(got) != "dex" {
		t.Fatalf("ReadFile() = %q, %v", got, err)
	}
	if err := w.WriteDex("/data/app/base.vdex", 1, []byte("new")); err == nil {
		t.Error("WriteDex() should not clobber an existing file")
	}
	w.Overwrite = true
	if err := w.WriteDex("/data/app/base.vdex", 1, []byte("new")); err != nil {
		t.Errorf("WriteDex() with Overwrite error = %v", err)
	}
}

func TestDexFileName(t *testing.T) {
	tests := []struct {
		name  string
		index int
		want  string
	}{
		{"base.vdex", 0, "base_classes.dex"},
		{"base.vdex", 1, "base_classes2.dex"},
		{"/system/framework/arm64/boot-framework.vdex", 9, "boot-framework_classes10.dex"},
		{"noext", 0, "noext_classes.dex"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := DexFileName(tt.name, tt.index); got != tt.want {
				t.Errorf("DexFileName(%q, %d) = %q, want %q", tt.name, tt.index, got, tt.want)
			}
		})
	}
}
