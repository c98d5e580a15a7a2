package vdex

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// OutputWriter receives each finished dex file
type OutputWriter interface {
	WriteDex(name string, index int, data []byte) error
}

// DexFileName returns the output name of dex file index for a vdex named name:
// <base>_classes.dex, <base>_classes2.dex, ...
func DexFileName(name string, index int) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if index == 0 {
		return base + "_classes.dex"
	}
	return fmt.Sprintf("%s_classes%d.dex", base, index+1)
}

// DirWriter writes dex files into a directory
type DirWriter struct {
	Dir       string
	Overwrite bool
}

// WriteDex writes data to Dir/DexFileName(name, index)
func (w DirWriter) WriteDex(name string, index int, data []byte) error {
	if err := os.MkdirAll(w.Dir, 0o750); err != nil {
		return fmt.Errorf("failed to create output directory %s: %w", w.Dir, err)
	}
	fname := filepath.Join(w.Dir, DexFileName(name, index))
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !w.Overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(fname, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists (use --force to overwrite)", fname)
		}
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", fname, err)
	}
	return f.Close()
}

// MemWriter keeps the written dex files in memory, keyed by output name
type MemWriter struct {
	Files map[string][]byte
}

// WriteDex stores a copy of data
func (w *MemWriter) WriteDex(name string, index int, data []byte) error {
	if w.Files == nil {
		w.Files = make(map[string][]byte)
	}
	w.Files[DexFileName(name, index)] = append([]byte(nil), data...)
	return nil
}
