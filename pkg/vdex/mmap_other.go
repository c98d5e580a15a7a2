//go:build !unix

package vdex

import (
	"fmt"
	"os"
)

func mapFile(path string) ([]byte, func() error, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	if len(data) < HeaderSize {
		return nil, nil, fmt.Errorf("%w: file is %d bytes", ErrTruncated, len(data))
	}
	return data, func() error { return nil }, nil
}
