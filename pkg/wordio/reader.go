package wordio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrShortStream is returned when a read runs past the end of the stream.
var ErrShortStream = errors.New("wordio: stream truncated")

// ErrMisaligned is returned for inputs that are not a whole number of words.
var ErrMisaligned = errors.New("wordio: input is not word aligned")

// Reader reads words from an in-memory or memory-mapped byte slice.
type Reader struct {
	data  []byte
	pos   int // Byte offset of the next word.
	unmap func() error
}

// NewReader returns a Reader over data. data must be a whole number of words.
func NewReader(data []byte) (*Reader, error) {
	if len(data)%WordSize != 0 {
		return nil, fmt.Errorf("%d bytes: %w", len(data), ErrMisaligned)
	}
	return &Reader{data: data}, nil
}

// ReadAll reads r to the end and returns a Reader over the result.
func ReadAll(r io.Reader) (*Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return NewReader(data)
}

// Len returns the total number of words in the stream.
func (r *Reader) Len() int64 {
	return int64(len(r.data) / WordSize)
}

// Pos returns the index of the next word to be read.
func (r *Reader) Pos() int64 {
	return int64(r.pos / WordSize)
}

// Remaining returns the number of unread words.
func (r *Reader) Remaining() int64 {
	return int64((len(r.data) - r.pos) / WordSize)
}

// ReadWord returns the next word.
func (r *Reader) ReadWord() (uint64, error) {
	if r.pos+WordSize > len(r.data) {
		return 0, ErrShortStream
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += WordSize
	return v, nil
}

// PeekWord returns the next word without consuming it.
func (r *Reader) PeekWord() (uint64, error) {
	if r.pos+WordSize > len(r.data) {
		return 0, ErrShortStream
	}
	return binary.LittleEndian.Uint64(r.data[r.pos:]), nil
}

// ReadWords fills dst with the next len(dst) words.
func (r *Reader) ReadWords(dst []uint64) error {
	if int64(len(dst)) > r.Remaining() {
		return ErrShortStream
	}
	for i := range dst {
		dst[i] = binary.LittleEndian.Uint64(r.data[r.pos:])
		r.pos += WordSize
	}
	return nil
}

// ReadBytes reads a byte string written by Writer.WriteBytes.
func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadWord()
	if err != nil {
		return nil, err
	}
	nwords := (n + WordSize - 1) / WordSize
	if nwords > uint64(r.Remaining()) {
		return nil, ErrShortStream
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+int(n)])
	r.pos += int(nwords) * WordSize
	return out, nil
}

// Skip advances past n words.
func (r *Reader) Skip(n int64) error {
	if n < 0 || n > r.Remaining() {
		return ErrShortStream
	}
	r.pos += int(n) * WordSize
	return nil
}

// Close releases the mapping backing the reader, if any.
func (r *Reader) Close() error {
	r.data = nil
	r.pos = 0
	if r.unmap == nil {
		return nil
	}
	unmap := r.unmap
	r.unmap = nil
	return unmap()
}
