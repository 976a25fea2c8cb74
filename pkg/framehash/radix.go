package framehash

import (
	"math/bits"

	"framehash/pkg/config"
	"framehash/pkg/hash"

	"github.com/bits-and-blooms/bitset"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// Dispatch //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Every radix operation takes the cell referencing the frame to operate on.
// When a frame is replaced the reference is updated in place, so callers must
// re-read ref.frame after any call that can restructure the subtree.

func (ctx *opContext) radixSet(ref *Cell) result {
	switch ref.frame.ftype {
	case frameCache:
		return ctx.cacheSet(ref)
	case frameLeaf:
		return ctx.leafSet(ref)
	case frameInternal:
		return ctx.internalSet(ref)
	case frameBasement:
		return ctx.basementSet(ref)
	}
	panic("framehash: set in " + ref.frame.String())
}

func (ctx *opContext) radixGet(ref *Cell) result {
	switch ref.frame.ftype {
	case frameCache:
		return ctx.cacheGet(ref)
	case frameLeaf:
		return ctx.leafGet(ref)
	case frameInternal:
		return ctx.internalGet(ref)
	case frameBasement:
		return ctx.basementGet(ref)
	}
	panic("framehash: get in " + ref.frame.String())
}

func (ctx *opContext) radixDel(ref *Cell) result {
	switch ref.frame.ftype {
	case frameCache:
		return ctx.cacheDel(ref)
	case frameLeaf:
		return ctx.leafDel(ref)
	case frameInternal:
		return ctx.internalDel(ref)
	case frameBasement:
		return ctx.basementDel(ref)
	}
	panic("framehash: delete in " + ref.frame.String())
}

// cacheSlotIndex returns the cache slot of the key. The top frame is indexed
// by the object id, other cache frames by the whole chain index.
func (ctx *opContext) cacheSlotIndex(f *frame) int {
	if f.domain == config.DomainTop {
		return hash.TopIndex(f.order, ctx.selector())
	}
	return ctx.chainIndex(f.domain)
}

// internalChainCell returns the chain cell of the key, or nil when the key's
// chain slot holds data.
func (ctx *opContext) internalChainCell(f *frame) *Cell {
	cidx := ctx.chainIndex(f.domain)
	q := hash.ChainSlot(cidx)
	if !f.isChain(q) {
		return nil
	}
	return &f.cells[f.chainSlotCell(q, hash.ChainCell(cidx))]
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// Internal //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (ctx *opContext) internalSet(ref *Cell) result {
	f := ref.frame
	chain := ctx.internalChainCell(f)
	if chain == nil && !f.dobalance {
		return ctx.leafSet(ref)
	}
	var chaining result
	if chain == nil {
		chaining = ctx.createInternalChain(ref)
		if chaining.modified && ref.frame.ftype == frameInternal {
			chain = ctx.internalChainCell(ref.frame)
		}
	}
	if chain != nil {
		r := ctx.radixSet(chain)
		if r.depth > f.domain+1 {
			f.dobalance = true
		}
		r.modified = chaining.modified
		return r
	}
	if chaining.completed && chaining.modified && ref.frame.ftype != frameInternal {
		r := ctx.radixSet(ref)
		r.modified = true
		return r
	}
	return chaining
}

func (ctx *opContext) internalGet(ref *Cell) result {
	if chain := ctx.internalChainCell(ref.frame); chain != nil {
		return ctx.radixGet(chain)
	}
	return ctx.leafGet(ref)
}

func (ctx *opContext) internalDel(ref *Cell) result {
	f := ref.frame
	chain := ctx.internalChainCell(f)
	if chain == nil {
		r := ctx.leafDel(ref)
		f = ref.frame
		if r.unresizable && f.nactive == 0 && f.chainbits != 0 {
			// No data left here but chains below.
			c := ctx.tryCompaction(ref)
			if c.errored {
				r.errored = true
			} else if c.modified {
				r.modified = true
				r.unresizable = false
			}
		}
		return r
	}

	r := ctx.radixDel(chain)
	if !r.completed {
		r.empty = false
		return r
	}
	if r.unresizable || r.empty {
		d := ctx.tryDestroyInternalChain(ref)
		f = ref.frame
		r.empty = d.completed && f.chainbits == 0 && f.nactive == 0
		r.modified = d.modified
		return r
	}
	if bits.OnesCount16(f.chainbits) <= 2 {
		sub := chain.frame
		sparse := (sub.ftype == frameLeaf && sub.nactive < 16) ||
			(sub.ftype == frameBasement && sub.nactive < config.BasementSize)
		if sparse && ctx.dyn.subtreeCount(ref, config.CompactionScanLimit) < config.CompactionScanLimit {
			if c := ctx.tryCompaction(ref); c.modified {
				r.modified = true
			}
		}
	}
	return r
}

// newChainChild allocates one of the four children of a new chain slot.
func (ctx *opContext) newChainChild(child *Cell, parentDomain int) error {
	if parentDomain < config.DomainLastFrame {
		return ctx.dyn.newFrame(child, config.PMin, parentDomain+1, frameLeaf, ctx.cacheDepth)
	}
	return ctx.dyn.newBasement(child, parentDomain+1)
}

// createInternalChain turns the chain slot of the key into four child frames
// and moves every item belonging to that slot into them. The frame is only
// modified after all children are built. A frame whose chain zone is fully
// chained and that may cache is then converted into a cache frame.
func (ctx *opContext) createInternalChain(ref *Cell) result {
	var r result
	f := ref.frame
	p := f.order
	cidx := ctx.chainIndex(f.domain)
	q := hash.ChainSlot(cidx)

	if !f.isChain(q) {
		var children [config.CellsPerSlot]Cell
		rollback := func() {
			for j := range children {
				ctx.dyn.discard(&children[j])
			}
		}
		for j := range children {
			if err := ctx.newChainChild(&children[j], f.domain); err != nil {
				ctx.fail(err)
				rollback()
				r.errored = true
				return r
			}
		}

		migrants := bitset.New(uint(len(f.cells)))
		for k := p - 1; k >= 0; k-- {
			first, last := 0, (1<<uint(k))-1
			if k == chainZone(p) {
				first, last = q, q
			}
			for zq := first; zq <= last; zq++ {
				fx := frameIndex(p, k, zq)
				for j := 0; j < config.CellsPerSlot; j++ {
					ci := slotCell(fx, j)
					c := &f.cells[ci]
					if c.isEnd() {
						break
					}
					if !c.IsItem() {
						continue
					}
					sub := ctx.cellContext(c, rehashControl)
					mcidx := sub.chainIndex(f.domain)
					if hash.ChainSlot(mcidx) != q {
						continue
					}
					if m := sub.radixSet(&children[hash.ChainCell(mcidx)]); m.errored || !m.completed {
						rollback()
						r.errored = true
						return r
					}
					migrants.Set(uint(ci))
				}
			}
		}

		for ci, ok := migrants.NextSet(0); ok; ci, ok = migrants.NextSet(ci + 1) {
			f.cells[ci].deleteItem()
			f.nactive--
		}
		for j := range children {
			f.cells[f.chainSlotCell(q, j)].steal(&children[j])
		}
		f.chainbits |= 1 << uint(q)
		f.ftype = frameInternal
		ctx.dyn.log.Debugf("chain q=%d created in %s, %d items moved", q, f, migrants.Count())
		r.modified = true
		r.completed = true
		r.depth = f.domain
	}

	if int(f.chainbits) == 1<<uint(nchainSlots(p))-1 && f.cancache && f.cachetyp == cacheCMorph {
		ctx.convertToCache(ref)
	}
	return r
}

// convertToCache replaces a fully chained internal frame with a cache frame
// whose chain cells take over the internal frame's chain cells in order.
func (ctx *opContext) convertToCache(ref *Cell) {
	f := ref.frame
	if f.nactive != 0 {
		panic("framehash: cache conversion of " + f.String() + " with data cells")
	}
	var cache Cell
	if err := ctx.dyn.newFrame(&cache, f.order, f.domain, frameCache, ctx.cacheDepth); err != nil {
		ctx.dyn.log.Infof("cache conversion of %s: %v", f, err)
		return
	}
	cf := cache.frame
	base := f.chainSlotCell(0, 0)
	nslots := cf.nslots()
	for fx := 0; fx < nslots; fx++ {
		cf.cells[cacheSlot(fx)+cacheChainCell].steal(&f.cells[base+fx])
	}
	chainbits := f.chainbits
	f.chainbits = 0
	if err := ctx.dyn.discard(ref); err != nil {
		for fx := 0; fx < nslots; fx++ {
			f.cells[base+fx].steal(&cf.cells[cacheSlot(fx)+cacheChainCell])
		}
		f.chainbits = chainbits
		ctx.dyn.discard(&cache)
		return
	}
	cf.nchains.Store(int32(nslots))
	ref.steal(&cache)
	ctx.dyn.log.Debugf("converted internal frame to %s", cf)
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Destruction ////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// tryDestroyChain discards the frame referenced by ref if it is empty and
// leaves term (EMPTY or END) in its place.
func (ctx *opContext) tryDestroyChain(ref *Cell, term cellState) result {
	var r result
	f := ref.frame
	destroy := false
	switch f.ftype {
	case frameCache:
		fl := ctx.cacheFlush(ref, false)
		r.errored = fl.errored
		destroy = fl.completed && f.nchains.Load() == 0
	case frameInternal:
		destroy = f.nactive == 0 && f.chainbits == 0
	case frameLeaf:
		destroy = f.nactive == 0
	case frameBasement:
		destroy = f.nactive == 0 && !f.hasnext
	}
	if !destroy {
		return r
	}
	if err := ctx.dyn.discard(ref); err != nil {
		return r
	}
	switch term {
	case cellEmpty:
		ref.deleteItem()
	case cellEnd:
		ref.clearRef()
	default:
		panic("framehash: illegal chain terminator")
	}
	r.completed = true
	return r
}

// tryDestroyInternalChain removes the chain slot of the key when all four
// children are empty, returning the slot to data cells.
func (ctx *opContext) tryDestroyInternalChain(ref *Cell) result {
	var r result
	f := ref.frame
	q := hash.ChainSlot(ctx.chainIndex(f.domain))
	if !f.isChain(q) {
		return r
	}
	for j := 0; j < config.CellsPerSlot; j++ {
		c := &f.cells[f.chainSlotCell(q, j)]
		if !c.hasFrame() || c.frame.nactive != 0 {
			return r
		}
		if t := c.frame.ftype; t != frameLeaf && !(t == frameBasement && !c.frame.hasnext) {
			return r
		}
	}

	var pool [config.CellsPerSlot]Cell
	defer func() {
		for j := range pool {
			ctx.dyn.discard(&pool[j])
		}
	}()
	for j := range pool {
		if err := ctx.newChainChild(&pool[j], f.domain); err != nil {
			ctx.fail(err)
			r.errored = true
			return r
		}
	}

	incomplete := false
	for j := 0; j < config.CellsPerSlot; j++ {
		if !ctx.tryDestroyChain(&f.cells[f.chainSlotCell(q, j)], cellEmpty).completed {
			incomplete = true
		}
	}
	if incomplete {
		for j := 0; j < config.CellsPerSlot; j++ {
			if c := &f.cells[f.chainSlotCell(q, j)]; c.isEmpty() {
				c.steal(&pool[j])
			}
		}
		return r
	}

	f.chainbits &^= 1 << uint(q)
	r.modified = true
	r.completed = true
	ctx.dyn.log.Debugf("chain q=%d destroyed in %s", q, f)
	if f.chainbits == 0 {
		f.ftype = frameLeaf
		f.dobalance = false
	} else if bits.OnesCount16(f.chainbits) < nchainSlots(f.order)/2 {
		ctx.tryCompaction(ref)
	}
	return r
}

// tryDestroyCacheChain discards the empty subtree below the key's cache slot
// unless the slot holds dirty cells.
func (ctx *opContext) tryDestroyCacheChain(ref *Cell) result {
	f := ref.frame
	base := cacheSlot(ctx.cacheSlotIndex(f))
	next := &f.cells[base+cacheChainCell]
	if !next.hasFrame() || next.frame.ftype == frameCache {
		return result{}
	}
	for j := 0; j < cacheCellsPerSlot; j++ {
		if f.cells[base+j].dirty {
			return result{}
		}
	}
	r := ctx.tryDestroyChain(next, cellEnd)
	if r.completed {
		f.nchains.Add(-1)
	}
	return r
}
