// Package allocator implements the block allocator that supplies fixed-size
// lines for frames and basements.
package allocator

import (
	"errors"
	"fmt"
	"sync"

	"framehash/pkg/list"

	"github.com/ncw/directio"
)

// BlockSize is the accounting unit reported by BlocksInUse.
const BlockSize int64 = directio.BlockSize

// MaxFreePerClass bounds the number of recycled lines kept per size class.
const MaxFreePerClass = 256

// Error for when allocating a line would exceed the byte limit.
var ErrOutOfMemory = errors.New("allocator: out of memory")

// Error for when the allocator is readonly.
var ErrReadonly = errors.New("allocator: readonly")

// Error for when readonly mode is left more often than it was entered.
var ErrNotReadonly = errors.New("allocator: not readonly")

// Error for when a line is freed that this allocator does not own.
var ErrUnknownLine = errors.New("allocator: unknown line")

// Config describes how lines of a size class are built and measured.
type Config[T any] struct {
	Name string
	// New builds a fresh line for a size class.
	New func(class int) *T
	// Reset clears a recycled line before it is handed out again.
	Reset func(line *T, class int)
	// SizeOf returns the byte size of a line of the given class.
	SizeOf func(class int) int64
	// Limit is the maximum number of bytes in use. Zero means unlimited.
	Limit int64
}

// Allocator manages lines of type T in size classes.
type Allocator[T any] struct {
	cfg      Config[T]
	freeList map[int]*list.List[*T] // Recycled lines per size class.
	inUse    map[*T]int             // Lines handed out, mapped to their class.
	bytes    int64                  // Bytes held by lines in use.
	peak     int64                  // Highest bytes in use observed.
	nalloc   int64                  // Number of successful allocations.
	nfree    int64                  // Number of successful frees.
	readonly int // Readonly depth. Each SetReadonly needs its own ClearReadonly.
	mtx      sync.Mutex
}

// New constructs an allocator from cfg.
func New[T any](cfg Config[T]) *Allocator[T] {
	if cfg.New == nil || cfg.SizeOf == nil {
		panic("allocator: New and SizeOf are required")
	}
	return &Allocator[T]{
		cfg:      cfg,
		freeList: make(map[int]*list.List[*T]),
		inUse:    make(map[*T]int),
	}
}

// Name returns the allocator name.
func (a *Allocator[T]) Name() string {
	return a.cfg.Name
}

// Allocate returns a line of the given class, recycling a freed line when one
// is available.
func (a *Allocator[T]) Allocate(class int) (*T, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.readonly > 0 {
		return nil, ErrReadonly
	}
	size := a.cfg.SizeOf(class)
	if a.cfg.Limit > 0 && a.bytes+size > a.cfg.Limit {
		return nil, fmt.Errorf("%s: class %d: %w", a.cfg.Name, class, ErrOutOfMemory)
	}
	var line *T
	if fl, ok := a.freeList[class]; ok {
		if recycled, ok := fl.PopHead(); ok {
			line = recycled
			if a.cfg.Reset != nil {
				a.cfg.Reset(line, class)
			}
		}
	}
	if line == nil {
		line = a.cfg.New(class)
	}
	a.inUse[line] = class
	a.bytes += size
	if a.bytes > a.peak {
		a.peak = a.bytes
	}
	a.nalloc++
	return line, nil
}

// Free returns a line to the allocator.
func (a *Allocator[T]) Free(line *T) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.readonly > 0 {
		return ErrReadonly
	}
	class, ok := a.inUse[line]
	if !ok {
		return ErrUnknownLine
	}
	delete(a.inUse, line)
	a.bytes -= a.cfg.SizeOf(class)
	a.nfree++
	fl, ok := a.freeList[class]
	if !ok {
		fl = list.NewList[*T]()
		a.freeList[class] = fl
	}
	if fl.Len() < MaxFreePerClass {
		fl.PushTail(line)
	}
	return nil
}

// Owns reports whether line is currently allocated from a.
func (a *Allocator[T]) Owns(line *T) bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	_, ok := a.inUse[line]
	return ok
}

// SetReadonly makes the allocator refuse allocations and frees. Calls nest,
// so maps sharing the allocator can each enter readonly mode.
func (a *Allocator[T]) SetReadonly() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.readonly++
	return nil
}

// ClearReadonly leaves one level of readonly mode. The allocator is writable
// again when every SetReadonly has been cleared.
func (a *Allocator[T]) ClearReadonly() error {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	if a.readonly == 0 {
		return ErrNotReadonly
	}
	a.readonly--
	return nil
}

// IsReadonly reports whether the allocator is readonly.
func (a *Allocator[T]) IsReadonly() bool {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.readonly > 0
}

// BytesInUse returns the number of bytes held by allocated lines.
func (a *Allocator[T]) BytesInUse() int64 {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return a.bytes
}

// BlocksInUse returns BytesInUse rounded up to whole blocks.
func (a *Allocator[T]) BlocksInUse() int64 {
	b := a.BytesInUse()
	return (b + BlockSize - 1) / BlockSize
}

// Lines returns the number of allocated lines.
func (a *Allocator[T]) Lines() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	return len(a.inUse)
}

// Stats is a snapshot of allocator counters.
type Stats struct {
	Name       string `json:"name"`
	Lines      int    `json:"lines"`
	BytesInUse int64  `json:"bytes_in_use"`
	PeakBytes  int64  `json:"peak_bytes"`
	Allocs     int64  `json:"allocs"`
	Frees      int64  `json:"frees"`
	FreeLines  int    `json:"free_lines"`
	Readonly   bool   `json:"readonly"`
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator[T]) Stats() Stats {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	free := 0
	for _, fl := range a.freeList {
		free += fl.Len()
	}
	return Stats{
		Name:       a.cfg.Name,
		Lines:      len(a.inUse),
		BytesInUse: a.bytes,
		PeakBytes:  a.peak,
		Allocs:     a.nalloc,
		Frees:      a.nfree,
		FreeLines:  free,
		Readonly:   a.readonly > 0,
	}
}

// Check verifies the allocator bookkeeping and returns the number of errors
// found.
func (a *Allocator[T]) Check() int {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	nerr := 0
	var total int64
	for _, class := range a.inUse {
		total += a.cfg.SizeOf(class)
	}
	if total != a.bytes {
		nerr++
	}
	if a.nalloc-a.nfree != int64(len(a.inUse)) {
		nerr++
	}
	for _, fl := range a.freeList {
		fl.Map(func(link *list.Link[*T]) {
			if _, ok := a.inUse[link.GetValue()]; ok {
				nerr++
			}
			if link.GetList() != fl {
				nerr++
			}
		})
		if fl.Len() > MaxFreePerClass {
			nerr++
		}
	}
	return nerr
}

// Trim drops every recycled line.
func (a *Allocator[T]) Trim() {
	a.mtx.Lock()
	defer a.mtx.Unlock()
	a.freeList = make(map[int]*list.List[*T])
}
