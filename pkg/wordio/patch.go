package wordio

import (
	"encoding/binary"
	"fmt"
	"os"
)

// PatchWords overwrites the words starting at word offset off in the file at
// path. The file must already extend past the patched range.
func PatchWords(path string, off int64, words ...uint64) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	end := (off + int64(len(words))) * WordSize
	if off < 0 || end > info.Size() {
		return fmt.Errorf("patch %s at word %d: %w", path, off, ErrShortStream)
	}
	buf := make([]byte, len(words)*WordSize)
	for i, v := range words {
		binary.LittleEndian.PutUint64(buf[i*WordSize:], v)
	}
	if _, err := f.WriteAt(buf, off*WordSize); err != nil {
		return err
	}
	return f.Sync()
}
