// Package wordio reads and writes streams of little-endian 8-byte words.
package wordio

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/ncw/directio"
)

// WordSize is the size of one stream word in bytes.
const WordSize = 8

// wordsPerBuffer is the number of words buffered before a write is issued.
const wordsPerBuffer = 4 * directio.BlockSize / WordSize

// ErrClosed is returned when writing to a closed Writer.
var ErrClosed = errors.New("wordio: writer closed")

// Writer buffers words in a block-aligned buffer and writes them out in
// whole buffers.
type Writer struct {
	w      io.Writer
	file   *os.File // Backing file when created by Create, else nil.
	buf    []byte
	n      int   // Bytes pending in buf.
	count  int64 // Words written since creation.
	err    error
	closed bool
}

// NewWriter returns a Writer on top of w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		w:   w,
		buf: directio.AlignedBlock(int(wordsPerBuffer * WordSize)),
	}
}

// Create creates (or truncates) the file at path and returns a Writer for it.
// Parent directories are created as needed.
func Create(path string) (*Writer, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	w := NewWriter(f)
	w.file = f
	return w, nil
}

// Count returns the number of words written so far, including buffered ones.
func (w *Writer) Count() int64 {
	return w.count
}

// Err returns the first error encountered by the writer.
func (w *Writer) Err() error {
	return w.err
}

// WriteWord appends one word to the stream.
func (w *Writer) WriteWord(v uint64) error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return ErrClosed
	}
	if w.n+WordSize > len(w.buf) {
		if err := w.flush(); err != nil {
			return err
		}
	}
	binary.LittleEndian.PutUint64(w.buf[w.n:], v)
	w.n += WordSize
	w.count++
	return nil
}

// WriteWords appends words to the stream.
func (w *Writer) WriteWords(vs ...uint64) error {
	for _, v := range vs {
		if err := w.WriteWord(v); err != nil {
			return err
		}
	}
	return nil
}

// WriteBytes appends b zero-padded to a whole number of words, preceded by
// its length in bytes.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteWord(uint64(len(b))); err != nil {
		return err
	}
	var word [WordSize]byte
	for off := 0; off < len(b); off += WordSize {
		clear(word[:])
		copy(word[:], b[off:])
		if err := w.WriteWord(binary.LittleEndian.Uint64(word[:])); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) flush() error {
	if w.n == 0 {
		return nil
	}
	if _, err := w.w.Write(w.buf[:w.n]); err != nil {
		w.err = err
		return err
	}
	w.n = 0
	return nil
}

// Flush writes any buffered words to the underlying writer.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	return w.flush()
}

// Close flushes the writer and closes the backing file if the writer owns one.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	err := w.Flush()
	w.closed = true
	if w.file != nil {
		if err == nil {
			err = w.file.Sync()
		}
		if cerr := w.file.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Abort closes the writer without flushing and removes its backing file.
func (w *Writer) Abort() error {
	w.closed = true
	if w.file == nil {
		return nil
	}
	name := w.file.Name()
	_ = w.file.Close()
	return os.Remove(name)
}
