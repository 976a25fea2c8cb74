package framehash

import (
	"errors"
	"fmt"
	"sync"

	"framehash/pkg/allocator"
	"framehash/pkg/config"
	"framehash/pkg/hash"

	"github.com/datatrails/go-datatrails-common/logger"
)

const cellBytes = 16

var loggerOnce sync.Once

// componentLogger returns a logger for a named component, initialising the
// package logger when the process has not done so.
func componentLogger(name string) logger.Logger {
	loggerOnce.Do(func() {
		if logger.Sugar == nil {
			logger.New("NOOP")
		}
	})
	return logger.Sugar.WithServiceName(name)
}

// AllocatorSource selects where an instance gets its frame allocators.
type AllocatorSource struct {
	shared *Dynamic
	limit  int64
}

// OwnedAllocators gives the instance its own allocators with a byte limit.
// Zero means unlimited.
func OwnedAllocators(limit int64) AllocatorSource {
	return AllocatorSource{limit: limit}
}

// SharedAllocators makes the instance allocate from the allocators of d.
func SharedAllocators(d *Dynamic) AllocatorSource {
	return AllocatorSource{shared: d}
}

// Dynamic bundles the frame and basement allocators with the shortid hasher.
// It may be shared by several maps.
type Dynamic struct {
	frames    *allocator.Allocator[frame]
	basements *allocator.Allocator[frame]
	hasher    hash.ShortIDFunc
	log       logger.Logger
}

func newFrameLine(class int) *frame {
	f := &frame{}
	f.cells = make([]Cell, cellCount(classType(class), classOrder(class)))
	return f
}

func frameLineSize(class int) int64 {
	ftype, order := classType(class), classOrder(class)
	n := cellCount(ftype, order)
	if ftype == frameBasement {
		return int64(n+1) * cellBytes
	}
	// Metas and half slot share the first line.
	return int64(n+2) * cellBytes
}

// NewDynamic returns a Dynamic with its own allocators. A nil hasher selects
// hash.XxHash64.
func NewDynamic(limit int64, hasher hash.ShortIDFunc) *Dynamic {
	if hasher == nil {
		hasher = hash.XxHash64
	}
	return &Dynamic{
		frames: allocator.New(allocator.Config[frame]{
			Name:   config.Name + ".frames",
			New:    newFrameLine,
			SizeOf: frameLineSize,
			Limit:  limit,
		}),
		basements: allocator.New(allocator.Config[frame]{
			Name:   config.Name + ".basements",
			New:    newFrameLine,
			SizeOf: frameLineSize,
			Limit:  limit,
		}),
		hasher: hasher,
		log:    componentLogger(config.Name),
	}
}

func newDynamic(src AllocatorSource, hasher hash.ShortIDFunc) *Dynamic {
	if src.shared == nil {
		return NewDynamic(src.limit, hasher)
	}
	if hasher == nil {
		hasher = src.shared.hasher
	}
	return &Dynamic{
		frames:    src.shared.frames,
		basements: src.shared.basements,
		hasher:    hasher,
		log:       src.shared.log,
	}
}

func (d *Dynamic) shortid(key uint64) uint64 {
	return d.hasher(key)
}

// BytesInUse returns the bytes held by both allocators.
func (d *Dynamic) BytesInUse() int64 {
	return d.frames.BytesInUse() + d.basements.BytesInUse()
}

// Lines returns the number of frames and basements in use.
func (d *Dynamic) Lines() int {
	return d.frames.Lines() + d.basements.Lines()
}

// Check returns the number of accounting errors found in both allocators.
func (d *Dynamic) Check() int {
	return d.frames.Check() + d.basements.Check()
}

// Stats returns usage statistics of both allocators.
func (d *Dynamic) Stats() []allocator.Stats {
	return []allocator.Stats{d.frames.Stats(), d.basements.Stats()}
}

func (d *Dynamic) setReadonly() error {
	if err := d.frames.SetReadonly(); err != nil {
		return err
	}
	return d.basements.SetReadonly()
}

// writable returns ErrNoAccess while the allocators are readonly, which
// happens when another map sharing them is readonly.
func (d *Dynamic) writable() error {
	if d.frames.IsReadonly() || d.basements.IsReadonly() {
		return fmt.Errorf("allocators are readonly: %w", ErrNoAccess)
	}
	return nil
}

func (d *Dynamic) clearReadonly() error {
	if err := d.frames.ClearReadonly(); err != nil {
		return err
	}
	return d.basements.ClearReadonly()
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////// Frame lifecycle ///////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// newFrame allocates a frame and makes ref point to it. Cells start as END
// for leaf and internal frames, and as empty cache cells with null chains
// for cache frames.
func (d *Dynamic) newFrame(ref *Cell, order, domain int, ftype frameType, cacheDepth int) error {
	if ftype == frameBasement {
		return d.newBasement(ref, domain)
	}
	f, err := d.frames.Allocate(frameClass(ftype, order))
	if err != nil {
		return fmt.Errorf("new %s frame p=%d domain=%d: %w", ftype, order, domain, err)
	}
	f.reset(ftype, order, domain)
	if ftype == frameCache {
		for fx := 0; fx < f.nslots(); fx++ {
			base := cacheSlot(fx)
			for j := 0; j < cacheCellsPerSlot; j++ {
				f.cells[base+j].state = cellEmpty
			}
		}
		f.cancache = true
		if domain == config.DomainTop {
			f.cachetyp = cacheStatic
		} else {
			f.cachetyp = cacheCMorph
		}
	} else {
		f.cancache = domain <= cacheDepth
		if f.cancache {
			f.cachetyp = cacheCMorph
		}
	}
	ref.setRef(f)
	return nil
}

func (d *Dynamic) newBasement(ref *Cell, domain int) error {
	f, err := d.basements.Allocate(frameClass(frameBasement, 0))
	if err != nil {
		return fmt.Errorf("new basement domain=%d: %w", domain, err)
	}
	f.reset(frameBasement, 0, domain)
	ref.setRef(f)
	return nil
}

// discard frees the frame referenced by ref and everything below it, then
// clears ref. Objects are not destroyed. A frame that cannot be freed stays
// referenced, and so do the frames above it.
func (d *Dynamic) discard(ref *Cell) error {
	if !ref.hasFrame() {
		ref.clearRef()
		return nil
	}
	f := ref.frame
	switch f.ftype {
	case frameCache:
		for fx := 0; fx < f.nslots(); fx++ {
			if err := d.discard(&f.cells[cacheSlot(fx)+cacheChainCell]); err != nil {
				return err
			}
		}
	case frameInternal:
		for q := 0; q < nchainSlots(f.order); q++ {
			if !f.isChain(q) {
				continue
			}
			for j := 0; j < config.CellsPerSlot; j++ {
				if err := d.discard(&f.cells[f.chainSlotCell(q, j)]); err != nil {
					return err
				}
			}
		}
	case frameBasement:
		if f.hasnext {
			if err := d.discard(&f.cells[basementNext]); err != nil {
				return err
			}
		}
	}
	var err error
	if f.ftype == frameBasement {
		err = d.basements.Free(f)
	} else {
		err = d.frames.Free(f)
	}
	if errors.Is(err, allocator.ErrUnknownLine) {
		panic(fmt.Sprintf("framehash: discard %s: %v", f, err))
	} else if err != nil {
		d.log.Debugf("discard %s: %v", f, err)
		return fmt.Errorf("discard %s: %w", f, err)
	}
	ref.clearRef()
	return nil
}
