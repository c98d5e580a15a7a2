package buffer

import (
	"errors"
	"testing"
)

func TestReaderULEB128(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    uint32
		wantOff int
		wantErr bool
	}{
		{name: "zero", data: []byte{0x00}, want: 0, wantOff: 1},
		{name: "one byte", data: []byte{0x7f}, want: 127, wantOff: 1},
		{name: "two bytes", data: []byte{0x80, 0x01}, want: 128, wantOff: 2},
		{name: "dex doc sample", data: []byte{0x80, 0x7f}, want: 16256, wantOff: 2},
		{name: "max uint32", data: []byte{0xff, 0xff, 0xff, 0xff, 0x0f}, want: 0xffffffff, wantOff: 5},
		{name: "trailing data untouched", data: []byte{0x05, 0x06}, want: 5, wantOff: 1},
		{name: "empty", data: []byte{}, wantErr: true},
		{name: "truncated continuation", data: []byte{0x80}, wantErr: true},
		{name: "too long", data: []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(tt.data)
			got, err := r.ULEB128()
			if (err != nil) != tt.wantErr {
				t.Fatalf("ULEB128() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if r.Offset() != 0 {
					t.Errorf("failed read moved the cursor to %d", r.Offset())
				}
				return
			}
			if got != tt.want {
				t.Errorf("ULEB128() = %d, want %d", got, tt.want)
			}
			if r.Offset() != tt.wantOff {
				t.Errorf("Offset() = %d, want %d", r.Offset(), tt.wantOff)
			}
		})
	}
}

func TestReaderULEB128RespectsEndBound(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03}
	r := NewReaderAt(data, 0, 2)
	for i := 0; i < 2; i++ {
		if _, err := r.ULEB128(); err != nil {
			t.Fatalf("read %d: unexpected error %v", i, err)
		}
	}
	if _, err := r.ULEB128(); !errors.Is(err, ErrOverrun) {
		t.Fatalf("expected ErrOverrun at the end bound, got %v", err)
	}
	// a continuation that crosses the bound must fail even though the slice has more bytes
	r = NewReaderAt([]byte{0x81, 0x01}, 0, 1)
	if _, err := r.ULEB128(); !errors.Is(err, ErrOverrun) {
		t.Fatalf("expected ErrOverrun for continuation across the bound, got %v", err)
	}
}

func TestReaderCString(t *testing.T) {
	r := NewReader([]byte("Foo\x00Bar\x00Baz"))
	for _, want := range []string{"Foo", "Bar"} {
		got, err := r.CString()
		if err != nil {
			t.Fatalf("CString() error = %v", err)
		}
		if got != want {
			t.Errorf("CString() = %q, want %q", got, want)
		}
	}
	if _, err := r.CString(); !errors.Is(err, ErrOverrun) {
		t.Errorf("unterminated string should fail with ErrOverrun, got %v", err)
	}
	if r.Offset() != 8 {
		t.Errorf("Offset() = %d, want 8", r.Offset())
	}
}

func TestReaderFixedWidth(t *testing.T) {
	r := NewReader([]byte{0x78, 0x56, 0x34, 0x12, 0xcd, 0xab, 0xff})
	v32, err := r.Uint32()
	if err != nil || v32 != 0x12345678 {
		t.Fatalf("Uint32() = %#x, %v", v32, err)
	}
	v16, err := r.Uint16()
	if err != nil || v16 != 0xabcd {
		t.Fatalf("Uint16() = %#x, %v", v16, err)
	}
	if _, err := r.Uint16(); !errors.Is(err, ErrOverrun) {
		t.Errorf("Uint16() past end should fail, got %v", err)
	}
	if r.Remaining() != 1 {
		t.Errorf("Remaining() = %d, want 1", r.Remaining())
	}
	b, err := r.Bytes(1)
	if err != nil || len(b) != 1 || b[0] != 0xff {
		t.Errorf("Bytes(1) = %v, %v", b, err)
	}
	if !r.Done() {
		t.Error("expected reader to be done")
	}
	if err := r.Skip(1); err == nil {
		t.Error("Skip past end should fail")
	}
}
