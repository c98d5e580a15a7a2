package vdex

import (
	"errors"
	"fmt"

	"github.com/apex/log"
	"github.com/blacktop/vdex/pkg/dex"
)

// ExtractOptions configures Extract
type ExtractOptions struct {
	// Name is the vdex file name the output names are derived from
	Name string
	// Unquicken restores the quickened bytecode from the quickening info
	Unquicken bool
	// IgnoreCRC repairs the checksum of an unquickened dex instead of failing on mismatch
	IgnoreCRC bool
	// Writer receives the dex files; nil discards them
	Writer OutputWriter
	// Decompiler defaults to Decompiler006
	Decompiler Decompiler
}

// Extract restores and writes every dex file embedded in f.
// It returns the number of dex files the vdex declares. Embedded dex files with a bad
// magic are logged and skipped; every other failure aborts the extraction.
func Extract(f *File, opts ExtractOptions) (int, error) {
	dec := opts.Decompiler
	if dec == nil {
		dec = Decompiler006{}
	}

	var qs *quickeningStream
	if opts.Unquicken && f.QuickeningInfoSize != 0 {
		qs = newQuickeningStream(f.QuickeningInfo())
	}

	var offset uint32
	for i := 0; i < int(f.NumberOfDexFiles); i++ {
		buf := f.NextDexFile(&offset)
		if buf == nil {
			log.Errorf("Failed to extract %s - skipping", DexFileName(opts.Name, i))
			continue
		}

		df, err := dex.Parse(buf)
		if err != nil {
			log.WithError(fmt.Errorf("%w: %w", ErrInvalidDexFile, err)).Errorf("%s is an invalid dex file - skipping", DexFileName(opts.Name, i))
			continue
		}
		log.WithFields(log.Fields{
			"index":      i,
			"version":    df.Version(),
			"checksum":   fmt.Sprintf("%#08x", df.Checksum),
			"class_defs": df.ClassDefsSize,
			"size":       df.FileSize,
		}).Debug("Processing dex file")

		if err := processDexFile(i, df, qs, dec); err != nil {
			return 0, err
		}

		if opts.Unquicken {
			stored, computed, ok := df.VerifyChecksum()
			if !ok {
				if !opts.IgnoreCRC {
					return 0, &ChecksumError{DexIndex: i, Stored: stored, Computed: computed}
				}
				log.WithFields(log.Fields{
					"stored":   fmt.Sprintf("%#08x", stored),
					"computed": fmt.Sprintf("%#08x", computed),
				}).Warnf("Repairing checksum of %s", DexFileName(opts.Name, i))
				df.RepairChecksum()
			}
		} else {
			df.RepairChecksum()
		}

		if opts.Writer != nil {
			if err := opts.Writer.WriteDex(opts.Name, i, df.Bytes()); err != nil {
				return 0, fmt.Errorf("%w: dex file #%d: %w", ErrOutputFailure, i, err)
			}
		}
	}

	if qs != nil {
		if err := qs.Finish(); err != nil {
			return 0, err
		}
	}

	return int(f.NumberOfDexFiles), nil
}

func processDexFile(index int, df *dex.File, qs *quickeningStream, dec Decompiler) error {
	for m, err := range codeMethods(df) {
		if err != nil {
			return fmt.Errorf("dex file #%d: %w", index, err)
		}
		log.WithFields(log.Fields{
			"class_def": m.ClassDefIdx,
			"kind":      m.Kind,
			"method":    m.MethodIdx,
			"code_off":  fmt.Sprintf("%#x", m.CodeOff),
			"insns":     m.Code.InsnsSize,
		}).Debug("Method")

		if qs == nil {
			if err := dec.Walk(df, m.Code); err != nil {
				log.WithError(err).Warnf("Failed to walk %s", df.PrettyMethod(m.MethodIdx))
			}
			continue
		}

		frame, err := qs.Next()
		if err != nil {
			return fmt.Errorf("dex file #%d %s: %w", index, df.PrettyMethod(m.MethodIdx), err)
		}
		if err := dec.Unquicken(df, m.Code, frame); err != nil {
			var rerr *RewriteError
			if errors.As(err, &rerr) {
				return err
			}
			return &RewriteError{DexIndex: index, MethodIdx: m.MethodIdx, Method: df.PrettyMethod(m.MethodIdx), Err: err}
		}
	}
	return nil
}
