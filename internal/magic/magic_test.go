package magic

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsVdex(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		data    []byte
		want    bool
		wantErr bool
	}{
		{"vdex", []byte("vdex006\x00rest"), true, false},
		{"dex", []byte("dex\n035\x00"), false, true},
		{"cdex", []byte("cdex001\x00"), false, true},
		{"elf", []byte("\x7fELF"), false, true},
		{"short", []byte("vd"), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if err := os.WriteFile(path, tt.data, 0o644); err != nil {
				t.Fatal(err)
			}
			got, err := IsVdex(path)
			if (err != nil) != tt.wantErr {
				t.Errorf("IsVdex() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("IsVdex() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestVdexVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "base.vdex")
	if err := os.WriteFile(path, []byte("vdex006\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := VdexVersion(path)
	if err != nil || got != "006" {
		t.Errorf("VdexVersion() = %q, %v", got, err)
	}
}
