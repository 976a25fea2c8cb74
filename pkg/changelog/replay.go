package changelog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/icza/backscanner"
)

// readTrailer returns the trailer of an open delta file by scanning it
// backwards for its last non-empty line.
func readTrailer(f *os.File) (Trailer, error) {
	var t Trailer
	info, err := f.Stat()
	if err != nil {
		return t, err
	}
	scanner := backscanner.New(f, int(info.Size()))
	for {
		line, _, err := scanner.LineBytes()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return t, fmt.Errorf("%s: %w", f.Name(), ErrUncommitted)
			}
			return t, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, &t); err != nil || !t.Commit {
			return Trailer{}, fmt.Errorf("%s: %w", f.Name(), ErrUncommitted)
		}
		return t, nil
	}
}

// Verify checks the trailer of delta seq of base without reading its records.
func Verify(base string, seq uint64) (Trailer, error) {
	f, err := os.Open(DeltaPath(base, seq))
	if err != nil {
		return Trailer{}, err
	}
	defer f.Close()
	t, err := readTrailer(f)
	if err != nil {
		return t, err
	}
	if t.Seq != seq {
		return t, fmt.Errorf("%s: trailer seq %d: %w", f.Name(), t.Seq, ErrMismatch)
	}
	return t, nil
}

// Replay calls fn for every record of delta seq of base, in write order. The
// trailer is verified before the first record is passed on.
func Replay(base string, seq uint64, fn func(Record) error) (Trailer, error) {
	f, err := os.Open(DeltaPath(base, seq))
	if err != nil {
		return Trailer{}, err
	}
	defer f.Close()
	t, err := readTrailer(f)
	if err != nil {
		return t, err
	}
	if t.Seq != seq {
		return t, fmt.Errorf("%s: trailer seq %d: %w", f.Name(), t.Seq, ErrMismatch)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return t, err
	}
	dec := json.NewDecoder(f)
	for i := int64(0); i < t.Records; i++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return t, fmt.Errorf("%s: record %d: %w", f.Name(), i, err)
		}
		if rec.Op != OpSet && rec.Op != OpDel {
			return t, fmt.Errorf("%s: record %d: op %q: %w", f.Name(), i, rec.Op, ErrMismatch)
		}
		if err := fn(rec); err != nil {
			return t, err
		}
	}
	return t, nil
}
