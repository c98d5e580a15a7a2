package magic

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

type Magic [4]byte

var (
	MagicVdex = Magic{'v', 'd', 'e', 'x'}
	MagicDex  = Magic{'d', 'e', 'x', '\n'}
	MagicCdex = Magic{'c', 'd', 'e', 'x'}
)

func readMagic(filePath string) (Magic, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Magic{}, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	var magic Magic
	if _, err = io.ReadFull(f, magic[:]); err != nil {
		return Magic{}, fmt.Errorf("failed to read magic: %w", err)
	}
	return magic, nil
}

// IsVdex reports whether filePath starts with the vdex magic
func IsVdex(filePath string) (bool, error) {
	magic, err := readMagic(filePath)
	if err != nil {
		return false, err
	}

	switch magic {
	case MagicVdex:
		return true, nil
	case MagicDex:
		return false, fmt.Errorf("dex file detected (nothing to extract)")
	case MagicCdex:
		return false, fmt.Errorf("compact dex file detected (not supported)")
	default:
		return false, fmt.Errorf("not a vdex file")
	}
}

// VdexVersion returns the version string of the vdex file at filePath
func VdexVersion(filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer f.Close()

	var hdr [8]byte
	if _, err = io.ReadFull(f, hdr[:]); err != nil {
		return "", fmt.Errorf("failed to read header: %w", err)
	}
	if Magic(hdr[:4]) != MagicVdex {
		return "", fmt.Errorf("not a vdex file")
	}
	return string(bytes.TrimRight(hdr[4:], "\x00")), nil
}
