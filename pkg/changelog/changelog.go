// Package changelog stores operations applied to a map since its last full
// persist in numbered delta files next to the map file.
//
// A delta file holds one JSON record per line followed by a trailer line. It
// is written as <base>.<seq>.delta~ and becomes visible as <base>.<seq>.delta
// once the trailer has been synced and the file renamed.
package changelog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"framehash/pkg/config"

	"github.com/goccy/go-json"
	"github.com/otiai10/copy"
)

// ErrUncommitted is returned when a delta file has no valid trailer.
var ErrUncommitted = errors.New("changelog: delta not committed")

// ErrMismatch is returned when a delta file holds a different number of
// records than its trailer announces.
var ErrMismatch = errors.New("changelog: record count mismatch")

// Op is the operation recorded by a Record.
type Op string

const (
	OpSet Op = "set"
	OpDel Op = "del"
)

// Record is one logged operation. Key and value types are the numeric tags of
// the map that wrote the record.
type Record struct {
	Op        Op     `json:"op"`
	KeyType   uint8  `json:"kt"`
	Key       uint64 `json:"k"`
	High      uint64 `json:"h,omitempty"`
	ValueType uint8  `json:"vt,omitempty"`
	Value     uint64 `json:"v,omitempty"`
	Payload   []byte `json:"p,omitempty"`
}

// Trailer is the last line of a committed delta file. Nobj and Opcnt are the
// counters of the map after the delta was applied.
type Trailer struct {
	Commit  bool   `json:"commit"`
	Seq     uint64 `json:"seq"`
	Records int64  `json:"records"`
	Nobj    int64  `json:"nobj"`
	Opcnt   int64  `json:"opcnt"`
}

// DeltaPath returns the path of the committed delta seq of base.
func DeltaPath(base string, seq uint64) string {
	return fmt.Sprintf("%s.%08x%s", base, seq, config.DeltaSuffix)
}

func openPath(base string, seq uint64) string {
	return fmt.Sprintf("%s.%08x%s", base, seq, config.OpenDeltaSuffix)
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Writer ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Writer appends records to an uncommitted delta file.
type Writer struct {
	base string
	seq  uint64
	file *os.File
	n    int64
	mtx  sync.Mutex
}

// Create starts delta seq of base, replacing any uncommitted file with the
// same number.
func Create(base string, seq uint64) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(base), 0775); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(openPath(base, seq), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	return &Writer{base: base, seq: seq, file: f}, nil
}

// Seq returns the sequence number of the delta.
func (w *Writer) Seq() uint64 {
	return w.seq
}

// Len returns the number of records appended.
func (w *Writer) Len() int64 {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	return w.n
}

// writeLine encodes v as one line. Expects w.mtx to be locked.
func (w *Writer) writeLine(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.file.Write(append(b, '\n'))
	return err
}

// Append writes rec to the delta.
func (w *Writer) Append(rec Record) error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.file == nil {
		return os.ErrClosed
	}
	if err := w.writeLine(rec); err != nil {
		return err
	}
	w.n++
	return nil
}

// Commit writes the trailer, syncs the file and makes it visible under its
// committed name. It returns that name.
func (w *Writer) Commit(nobj, opcnt int64) (string, error) {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.file == nil {
		return "", os.ErrClosed
	}
	t := Trailer{Commit: true, Seq: w.seq, Records: w.n, Nobj: nobj, Opcnt: opcnt}
	if err := w.writeLine(t); err != nil {
		return "", err
	}
	if err := w.file.Sync(); err != nil {
		return "", err
	}
	if err := w.file.Close(); err != nil {
		return "", err
	}
	w.file = nil
	path := DeltaPath(w.base, w.seq)
	return path, os.Rename(openPath(w.base, w.seq), path)
}

// Abort closes and removes the uncommitted file.
func (w *Writer) Abort() error {
	w.mtx.Lock()
	defer w.mtx.Unlock()
	if w.file == nil {
		return nil
	}
	w.file.Close()
	w.file = nil
	return os.Remove(openPath(w.base, w.seq))
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// Directory /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// parseSeq extracts the sequence number from a delta file name.
func parseSeq(base, name, suffix string) (uint64, bool) {
	prefix := filepath.Base(base) + "."
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	hex := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	seq, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// List returns the committed sequence numbers of base in ascending order,
// and the paths of uncommitted files.
func List(base string) (committed []uint64, open []string, err error) {
	entries, err := os.ReadDir(filepath.Dir(base))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if seq, ok := parseSeq(base, e.Name(), config.DeltaSuffix); ok {
			committed = append(committed, seq)
		} else if _, ok := parseSeq(base, e.Name(), config.OpenDeltaSuffix); ok {
			open = append(open, filepath.Join(filepath.Dir(base), e.Name()))
		}
	}
	sort.Slice(committed, func(i, j int) bool { return committed[i] < committed[j] })
	return committed, open, nil
}

// Remove deletes every delta file of base, committed or not.
func Remove(base string) error {
	committed, open, err := List(base)
	if err != nil {
		return err
	}
	for _, seq := range committed {
		if err := os.Remove(DeltaPath(base, seq)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	for _, path := range open {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Snapshot replaces backup with a copy of dir.
func Snapshot(dir, backup string) error {
	if err := os.RemoveAll(backup); err != nil {
		return err
	}
	return copy.Copy(dir, backup)
}
