package framehash

import (
	"fmt"
	"math"

	"framehash/pkg/config"
	"framehash/pkg/hash"
)

// CellFunc is applied to every valid item cell reached by a Processor. It
// returns the number of items it processed, or a negative number to abort.
type CellFunc func(p *Processor, c *Cell) int64

// Processor walks a subtree and applies a CellFunc to its items.
type Processor struct {
	Fn     CellFunc
	Input  any
	Output any
	// Limit stops the walk once this many items were processed.
	Limit int64
	// Readonly processors may not modify cells.
	Readonly bool
	// AllowCached also visits cached copies in cache frames instead of
	// flushing them. Keys may then be visited more than once.
	AllowCached bool

	completed  bool
	failed     bool
	cause      error
	deltaItems int64

	dyn        *Dynamic
	cacheDepth int
	cur        *frame
}

// NewProcessor returns a readonly processor without a limit.
func NewProcessor(fn CellFunc) *Processor {
	return &Processor{Fn: fn, Limit: math.MaxInt64, Readonly: true}
}

// Complete stops the walk after the current cell.
func (p *Processor) Complete() { p.completed = true }

// Completed reports whether the cell function stopped the walk.
func (p *Processor) Completed() bool { return p.completed }

// Failed reports whether the walk was aborted.
func (p *Processor) Failed() bool { return p.failed }

// Abort records why a cell function stops the walk. The cell function
// returns its result.
func (p *Processor) Abort(err error) int64 {
	p.cause = err
	return -1
}

// err returns the error of an aborted walk.
func (p *Processor) err() error {
	if !p.failed {
		return nil
	}
	if p.cause != nil {
		return fmt.Errorf("%w: %w", ErrAborted, p.cause)
	}
	return ErrAborted
}

// DeltaItems returns the change in item count caused by the walk.
func (p *Processor) DeltaItems() int64 { return p.deltaItems }

// Update replaces the value of an item in place. Object values cannot be
// introduced or removed this way.
func (p *Processor) Update(c *Cell, v Value) error {
	if p.Readonly {
		return ErrNoAccess
	}
	if !c.IsItem() || p.cur == nil {
		return ErrIncompatible
	}
	if isObjectType(c.vtype) || isObjectType(v.typ) || v.typ == ValueNull {
		return ErrIncompatible
	}
	c.setValue(v)
	return nil
}

// Delete removes the item in c from the frame being processed. Owned objects
// are destroyed.
func (p *Processor) Delete(c *Cell) error {
	if p.Readonly {
		return ErrNoAccess
	}
	if !c.IsItem() || p.cur == nil || p.cur.ftype == frameCache {
		return ErrIncompatible
	}
	deleteFrameItem(p.cur, c)
	p.deltaItems--
	return nil
}

func isObjectType(t ValueType) bool {
	return t == ValueObject64 || t == ValueObject128
}

func (p *Processor) reset(dyn *Dynamic, cacheDepth int) {
	p.dyn = dyn
	p.cacheDepth = cacheDepth
	p.completed = false
	p.failed = false
	p.cause = nil
	p.deltaItems = 0
	p.cur = nil
	if p.Limit <= 0 {
		p.Limit = math.MaxInt64
	}
}

func (p *Processor) stopped(nproc int64) bool {
	return p.failed || nproc >= p.Limit || p.completed
}

// run processes the whole subtree referenced by ref.
func (p *Processor) run(ref *Cell) int64 {
	var nproc int64
	p.follow(ref, &nproc)
	return nproc
}

// runPartial processes only the top slot of a cache frame picked by selector.
func (p *Processor) runPartial(ref *Cell, selector uint64) int64 {
	if !ref.hasFrame() || ref.frame.ftype != frameCache {
		p.failed = true
		return -1
	}
	var nproc int64
	p.cacheSlot(ref, hash.TopIndex(ref.frame.order, selector), &nproc)
	return nproc
}

// follow processes the frame referenced by ref and reports whether the walk
// should stop.
func (p *Processor) follow(ref *Cell, nproc *int64) bool {
	if !ref.hasFrame() {
		return false
	}
	switch ref.frame.ftype {
	case frameCache:
		p.cache(ref, nproc)
	case frameLeaf:
		p.leaf(ref.frame, nproc)
	case frameInternal:
		p.internal(ref.frame, nproc)
	case frameBasement:
		p.basement(ref.frame, nproc)
	}
	return p.stopped(*nproc)
}

// region applies the cell function to the valid items among cells.
func (p *Processor) region(f *frame, cells []Cell, nproc *int64) bool {
	for i := range cells {
		c := &cells[i]
		if !c.IsItem() {
			continue
		}
		p.cur = f
		n := p.Fn(p, c)
		if n < 0 {
			*nproc = -1
			p.failed = true
			return true
		}
		*nproc += n
		if *nproc >= p.Limit || p.completed {
			return true
		}
	}
	return false
}

func (p *Processor) cache(ref *Cell, nproc *int64) {
	f := ref.frame
	for fx := 0; fx < f.nslots(); fx++ {
		if p.cacheSlot(ref, fx, nproc) {
			return
		}
	}
}

func (p *Processor) cacheSlot(ref *Cell, fx int, nproc *int64) bool {
	f := ref.frame
	base := cacheSlot(fx)
	if p.AllowCached {
		if p.region(f, f.cells[base:base+cacheCellsPerSlot], nproc) {
			return true
		}
	} else {
		ctx := &opContext{dyn: p.dyn, cacheDepth: p.cacheDepth, ctl: defaultControl, sink: &errorSink{}}
		if r := ctx.flushSlot(ref, fx, true); r.errored || !r.completed {
			p.failed = true
			*nproc = -1
			return true
		}
	}
	return p.follow(&f.cells[base+cacheChainCell], nproc)
}

func (p *Processor) leaf(f *frame, nproc *int64) {
	start := slotCell(0, 0)
	if f.order <= config.MaxPSmallFrame {
		start = 0
	}
	p.region(f, f.cells[start:], nproc)
}

func (p *Processor) internal(f *frame, nproc *int64) {
	order := f.order
	for k := order - 1; k >= 0; k-- {
		nzone := 1 << uint(k)
		first := slotCell(frameIndex(order, k, 0), 0)
		if k != chainZone(order) {
			if p.region(f, f.cells[first:first+nzone*config.CellsPerSlot], nproc) {
				return
			}
			continue
		}
		for q := 0; q < nzone; q++ {
			cells := f.cells[first+q*config.CellsPerSlot : first+(q+1)*config.CellsPerSlot]
			if f.isChain(q) {
				for j := range cells {
					if p.follow(&cells[j], nproc) {
						return
					}
				}
			} else if p.region(f, cells, nproc) {
				return
			}
		}
	}
}

func (p *Processor) basement(f *frame, nproc *int64) {
	if p.region(f, f.cells[:config.BasementSize], nproc) {
		return
	}
	if f.hasnext {
		p.follow(nextBasement(f), nproc)
	}
}
