//go:build !unix

package wordio

import (
	"fmt"
	"os"
)

// OpenFile reads the file at path and returns a Reader over it.
func OpenFile(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}
