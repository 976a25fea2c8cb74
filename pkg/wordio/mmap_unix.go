//go:build unix

package wordio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// OpenFile maps the file at path read-only and returns a Reader over it.
func OpenFile(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()
	if size%WordSize != 0 {
		return nil, fmt.Errorf("%s: %d bytes: %w", path, size, ErrMisaligned)
	}
	if size == 0 {
		return &Reader{}, nil
	}
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Reader{
		data:  data,
		unmap: func() error { return unix.Munmap(data) },
	}, nil
}
