//go:build unix

package vdex

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps path copy-on-write so in-place rewrites never reach the file on disk
func mapFile(path string) ([]byte, func() error, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.Size() < HeaderSize {
		return nil, nil, fmt.Errorf("%w: file is %d bytes", ErrTruncated, stat.Size())
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(stat.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to mmap file: %w", err)
	}
	return data, func() error {
		if err := unix.Munmap(data); err != nil {
			return fmt.Errorf("failed to unmap %s: %w", path, err)
		}
		return nil
	}, nil
}
