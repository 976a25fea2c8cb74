package framehash

import (
	"framehash/pkg/config"
	"framehash/pkg/hash"
)

// rehashControl is the policy used when refilling a new frame from an old one.
var rehashControl = control{enableRead: true, enableWrite: true, expectNonexist: true}

// defaultControl is the policy of internal write-backs and new frames.
var defaultControl = control{enableRead: true, enableWrite: true}

// probeCells scans cells of one slot. In find-available mode the first EMPTY
// or END cell is remembered in target, and END stops the probe with a hit.
// In match mode END stops scanning the slot.
func (ctx *opContext) probeCells(cells []Cell, available bool, target **Cell) bool {
	for i := range cells {
		c := &cells[i]
		switch c.state {
		case cellItem:
			if !c.invalid && ctx.matches(c) {
				*target = c
				return true
			}
		case cellEnd:
			if !available {
				return false
			}
			if *target == nil {
				*target = c
			}
			return true
		case cellEmpty:
			if available && *target == nil {
				*target = c
			}
		}
	}
	return false
}

// leafProbe locates the key in the data cells of a leaf or internal frame.
// In find-available mode a hit returns either the matching item or the cell
// where the item should be stored.
func (ctx *opContext) leafProbe(f *frame, available bool) (*Cell, bool) {
	var target *Cell
	p := f.order
	if p > 0 {
		h16 := hash.LeafBits(p, hash.Bits(f.domain, ctx.shortid))
		for k := p - 1; ; k-- {
			fx := frameIndex(p, k, int(h16&hash.ZoneMask(k)))
			if ctx.probeCells(f.cells[slotCell(fx, 0):slotCell(fx+1, 0)], available, &target) {
				return target, true
			}
			if k == 0 {
				break
			}
			h16 >>= uint(k)
		}
	}
	if p <= config.MaxPSmallFrame {
		if ctx.probeCells(f.cells[:config.CellsPerHalfSlot], available, &target) {
			return target, true
		}
	}
	return target, target != nil && available
}

// deleteFrameItem removes the item in c from f, destroying an owned object.
func deleteFrameItem(f *frame, c *Cell) int {
	if c.destructible() {
		c.obj.Destroy()
	}
	c.deleteItem()
	f.nactive--
	return f.nactive
}

// replaceItem destroys the owned object in c if the value of ctx does not
// keep the same instance.
func (ctx *opContext) replaceItem(c *Cell) {
	if c.destructible() && (ctx.value.typ != ValueObject128 || ctx.value.obj != c.obj) {
		c.obj.Destroy()
	}
}

func (ctx *opContext) expansionDue(f *frame) bool {
	load := f.loadFactor()
	if ctx.ctl.highLoad > 0 {
		return ctx.ctl.highLoad < 100 && load > ctx.ctl.highLoad
	}
	return f.nactive > (config.CellsPerSlot/2)<<uint(f.order) &&
		f.domain < config.OptimizeMemFromDomain &&
		f.order > config.MaxPSmallFrame &&
		load > config.MaxLoadFactor
}

func (ctx *opContext) reductionDue(f *frame) bool {
	load := f.loadFactor()
	if ctx.ctl.lowLoad > 0 {
		return ctx.ctl.lowLoad > 1 && load < ctx.ctl.lowLoad
	}
	return load < config.MinLoadFactor
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Resize ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

type resizeDirection int

const (
	resizeExpand resizeDirection = iota
	resizeReduce
)

// rehashCells inserts the items of cells into the frame referenced by dst.
func (ctx *opContext) rehashCells(dst *Cell, cells []Cell) bool {
	for i := range cells {
		c := &cells[i]
		if c.isEmpty() {
			continue
		}
		if c.isEnd() {
			break
		}
		sub := ctx.cellContext(c, rehashControl)
		r := sub.radixSet(dst)
		if !r.delta || r.errored {
			return false
		}
	}
	return true
}

// leafResize replaces the leaf referenced by ref with a larger or smaller leaf
// holding the same items.
func (ctx *opContext) leafResize(ref *Cell, dir resizeDirection) result {
	var r result
	f := ref.frame
	if f.ftype != frameLeaf {
		r.errored = true
		r.unresizable = true
		return r
	}
	p := f.order
	var np int
	switch {
	case dir == resizeExpand && p < config.PMax:
		if p > config.PMax-config.PIncrement {
			np = config.PMax
		} else if p <= config.MaxPSmallFrame || ctx.ctl.minimalGrowth || f.domain >= config.OptimizeMemFromDomain {
			np = p + 1
		} else {
			np = p + config.PIncrement
		}
	case dir == resizeReduce && p > config.PMin:
		load := f.loadFactor()
		if load*4 < config.MaxLoadFactor && p > config.PMin+1 {
			np = p - 2
		} else if load*2 < config.MaxLoadFactor {
			np = p - 1
		} else {
			r.unresizable = true
			return r
		}
	default:
		r.unresizable = true
		return r
	}

	var fresh Cell
	if err := ctx.dyn.newFrame(&fresh, np, f.domain, frameLeaf, ctx.cacheDepth); err != nil {
		ctx.fail(err)
		r.errored = true
		return r
	}
	ok := ctx.rehashCells(&fresh, f.cells[:config.CellsPerHalfSlot])
	for fx := 0; ok && fx < frameSlots(p); fx++ {
		ok = ctx.rehashCells(&fresh, f.cells[slotCell(fx, 0):slotCell(fx+1, 0)])
	}
	if !ok {
		ctx.dyn.discard(&fresh)
		r.errored = true
		return r
	}
	if err := ctx.dyn.discard(ref); err != nil {
		ctx.dyn.discard(&fresh)
		r.errored = true
		return r
	}
	ref.steal(&fresh)
	ctx.dyn.log.Debugf("resize leaf p=%d -> p=%d domain=%d n=%d", p, np, ref.frame.domain, ref.frame.nactive)
	r.completed = true
	r.modified = true
	r.depth = ref.frame.domain
	return r
}

// expand makes room in a full leaf or internal frame. A leaf at maximum order
// is turned into an internal frame by creating a chain for the key.
func (ctx *opContext) expand(ref *Cell) result {
	switch ref.frame.ftype {
	case frameLeaf:
		r := ctx.leafResize(ref, resizeExpand)
		if r.completed || r.errored {
			return r
		}
		return ctx.createInternalChain(ref)
	case frameInternal:
		return ctx.createInternalChain(ref)
	default:
		return result{errored: true}
	}
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Operations /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (ctx *opContext) leafSet(ref *Cell) result {
	var r result
	f := ref.frame
	domain := f.domain
	if c, hit := ctx.leafProbe(f, true); hit {
		if !c.IsItem() {
			f.nactive++
			r.delta = true
		} else {
			ctx.replaceItem(c)
		}
		ctx.store(c)
		r.completed = true
		if ctx.expansionDue(f) {
			x := ctx.expand(ref)
			if x.errored {
				r.unresizable = true
				r.errored = true
			}
			r.modified = x.modified
		}
	} else {
		x := ctx.expand(ref)
		if x.completed {
			r = ctx.radixSet(ref)
		} else {
			r.unresizable = true
			r.errored = true
			ctx.fail(ErrCapacity)
		}
		r.modified = x.modified
	}
	r.depth = domain
	return r
}

func (ctx *opContext) leafGet(ref *Cell) result {
	var r result
	f := ref.frame
	if c, hit := ctx.leafProbe(f, false); hit {
		ctx.loadValue(c)
		r.completed = true
	} else {
		ctx.value = Null()
	}
	r.depth = f.domain
	r.cacheable = ctx.ctl.enableRead
	return r
}

func (ctx *opContext) leafDel(ref *Cell) result {
	var r result
	f := ref.frame
	if c, hit := ctx.leafProbe(f, false); hit {
		r.delta = true
		r.completed = true
		r.depth = f.domain
		ctx.value = Value{typ: c.vtype}
		deleteFrameItem(f, c)
		if ctx.reductionDue(f) {
			switch f.ftype {
			case frameLeaf:
				x := ctx.leafResize(ref, resizeReduce)
				if x.errored {
					r.errored = true
					return r
				}
				r.unresizable = x.unresizable
				r.modified = x.completed
			case frameInternal:
				r.unresizable = true
			default:
				panic("framehash: leaf delete in " + f.ftype.String() + " frame")
			}
		}
	}
	f = ref.frame
	if f.nactive == 0 && (f.ftype == frameLeaf || (f.ftype == frameInternal && f.chainbits == 0)) {
		r.empty = true
	}
	return r
}
