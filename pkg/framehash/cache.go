package framehash

import (
	"framehash/pkg/config"
)

// cacheCells reports whether ctx uses cache cells at all.
func (ctx *opContext) cacheCells() bool {
	return ctx.cacheDepth >= 0
}

// cacheMatch returns the cache cell of slot base holding the key, valid or
// known nonexistent.
func (ctx *opContext) cacheMatch(f *frame, base int) *Cell {
	if !ctx.cacheCells() {
		return nil
	}
	for j := 0; j < cacheCellsPerSlot; j++ {
		if c := &f.cells[base+j]; ctx.matches(c) {
			return c
		}
	}
	return nil
}

// getChain returns the chain cell of cache slot fx, creating an empty leaf
// below it when there is none.
func (ctx *opContext) getChain(ref *Cell, fx int) (*Cell, error) {
	f := ref.frame
	chain := &f.cells[cacheSlot(fx)+cacheChainCell]
	if chain.hasFrame() {
		return chain, nil
	}
	if err := ctx.dyn.newFrame(chain, config.PMin, f.domain+1, frameLeaf, ctx.cacheDepth); err != nil {
		return nil, err
	}
	f.nchains.Add(1)
	return chain, nil
}

// evictCell writes a dirty cache cell of slot fx to the subtree below and
// deletes it from the cache. Invalid cells delete the key below.
func (ctx *opContext) evictCell(ref *Cell, fx int, c *Cell) result {
	chain, err := ctx.getChain(ref, fx)
	if err != nil {
		ctx.fail(err)
		return result{errored: true}
	}
	wb := ctx.cellContext(c, defaultControl)
	var r result
	if !c.invalid {
		r = wb.radixSet(chain)
		if r.completed {
			c.deleteItem()
		}
	} else {
		r = wb.radixDel(chain)
		if !r.errored {
			c.deleteItem()
			r.completed = true
		}
	}
	return r
}

// evictSlot writes all dirty cells of slot fx below. With invalidate the
// clean cells are removed as well.
func (ctx *opContext) evictSlot(ref *Cell, fx int, invalidate bool) result {
	var r result
	f := ref.frame
	base := cacheSlot(fx)
	for j := 0; j < cacheCellsPerSlot; j++ {
		c := &f.cells[base+j]
		if c.state != cellItem || !c.dirty {
			continue
		}
		if er := ctx.evictCell(ref, fx, c); er.errored || !er.completed {
			r.errored = true
			return r
		}
	}
	if invalidate {
		for j := 0; j < cacheCellsPerSlot; j++ {
			if c := &f.cells[base+j]; c.state == cellItem {
				c.deleteItem()
			}
		}
	}
	r.completed = true
	return r
}

// flushSlot makes slot fx of a cache frame clean.
func (ctx *opContext) flushSlot(ref *Cell, fx int, invalidate bool) result {
	return ctx.evictSlot(ref, fx, invalidate)
}

// cacheFlush writes every dirty cache cell in the subtree to its frame below.
func (ctx *opContext) cacheFlush(ref *Cell, invalidate bool) result {
	var r result
	if !ref.hasFrame() {
		r.completed = true
		return r
	}
	f := ref.frame
	switch f.ftype {
	case frameCache:
		for fx := 0; fx < f.nslots(); fx++ {
			if fl := ctx.flushSlot(ref, fx, invalidate); fl.errored {
				return fl
			}
			if fl := ctx.cacheFlush(&f.cells[cacheSlot(fx)+cacheChainCell], invalidate); fl.errored {
				return fl
			}
		}
	case frameInternal:
		for q := 0; q < nchainSlots(f.order); q++ {
			if !f.isChain(q) {
				continue
			}
			for j := 0; j < config.CellsPerSlot; j++ {
				if fl := ctx.cacheFlush(&f.cells[f.chainSlotCell(q, j)], invalidate); fl.errored {
					return fl
				}
			}
		}
	}
	r.completed = true
	return r
}

/////////////////////////////////////////////////////////////////////////////
//////////////////////////////// Operations /////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

func (ctx *opContext) cacheSet(ref *Cell) result {
	var r result
	f := ref.frame
	fx := ctx.cacheSlotIndex(f)

	if c := ctx.cacheMatch(f, cacheSlot(fx)); c != nil {
		if !ctx.ctl.enableWrite {
			// Write-through: drop the cached copy first.
			if c.dirty {
				if er := ctx.evictCell(ref, fx, c); er.errored || !er.completed {
					r.errored = true
					return r
				}
			}
			c.deleteItem()
		} else {
			r.delta = c.invalid
			if c.destructible() && (ctx.value.typ != ValueObject128 || ctx.value.obj != c.obj) {
				old := c.obj
				c.invalid = true
				c.dirty = true
				er := ctx.evictCell(ref, fx, c)
				if er.errored || !er.completed {
					r.errored = true
					return r
				}
				if !er.delta {
					old.Destroy()
				}
			}
			ctx.store(c)
			c.dirty = true
			r.completed = true
			r.depth = f.domain
			return r
		}
	}

	chain, err := ctx.getChain(ref, fx)
	if err != nil {
		ctx.fail(err)
		r.errored = true
		return r
	}
	return ctx.radixSet(chain)
}

func (ctx *opContext) cacheGet(ref *Cell) result {
	var r result
	f := ref.frame
	fx := ctx.cacheSlotIndex(f)
	base := cacheSlot(fx)
	useCells := ctx.ctl.enableRead && ctx.cacheCells()

	if useCells {
		if c := ctx.cacheMatch(f, base); c != nil {
			if c.invalid {
				ctx.value = Null()
			} else {
				ctx.loadValue(c)
				r.completed = true
			}
			f.cacheHit()
			r.cacheable = ctx.ctl.enableRead
			r.depth = f.domain
			return r
		}
		f.cacheMiss()
	}

	chain := &f.cells[base+cacheChainCell]
	if !chain.hasFrame() {
		ctx.value = Null()
		r.depth = f.domain
		return r
	}
	r = ctx.radixGet(chain)
	if !r.cacheable || !useCells || ctx.ctl.readonly {
		return r
	}

	victim := &f.cells[base+cacheVictim]
	if victim.state == cellItem && victim.dirty {
		if er := ctx.evictCell(ref, fx, victim); er.errored || !er.completed {
			r.cacheable = false
			return r
		}
	}
	copy(f.cells[base+1:base+cacheCellsPerSlot], f.cells[base:base+cacheVictim])
	c0 := &f.cells[base]
	if r.completed && ctx.value.typ != ValueNull {
		ctx.store(c0)
	} else {
		ctx.markCachedNonexist(c0)
	}
	r.cacheable = false
	return r
}

func (ctx *opContext) cacheDel(ref *Cell) result {
	var r result
	f := ref.frame
	fx := ctx.cacheSlotIndex(f)

	if c := ctx.cacheMatch(f, cacheSlot(fx)); c != nil {
		r.depth = f.domain
		if c.invalid {
			ctx.value = Null()
			if c.dirty && !ctx.ctl.enableWrite {
				if er := ctx.evictCell(ref, fx, c); er.errored {
					r.errored = true
				}
			}
			return r
		}
		ctx.value = Value{typ: c.vtype}
		destructible, old := c.destructible(), c.obj
		writeThrough := isObjectType(c.vtype) || !ctx.ctl.enableWrite
		c.invalid = true
		c.dirty = true
		c.vtype = ValueNull
		c.obj = nil
		c.bits = 0
		if writeThrough {
			er := ctx.evictCell(ref, fx, c)
			if er.errored || !er.completed {
				r.errored = true
				return r
			}
			if !er.delta && destructible {
				old.Destroy()
			}
			if ctx.ctl.enableRead {
				ctx.markCachedNonexist(c)
			}
		}
		r.delta = true
		r.completed = true
		return r
	}

	chain := &f.cells[cacheSlot(fx)+cacheChainCell]
	if !chain.hasFrame() {
		r.depth = f.domain
		return r
	}
	r = ctx.radixDel(chain)
	if r.errored || !(r.unresizable || r.empty) {
		r.empty = false
		return r
	}
	d := ctx.tryDestroyCacheChain(ref)
	if f.cachetyp != cacheCMorph {
		r.empty = false
		return r
	}
	nslots := int32(f.nslots())
	switch {
	case d.completed && f.nchains.Load() == 0:
		if fl := ctx.cacheFlush(ref, false); fl.errored {
			r.errored = true
			r.empty = false
			return r
		}
		if f.nchains.Load() != 0 {
			r.empty = false
			return r
		}
		c := ctx.tryCompaction(ref)
		r.empty = c.completed && c.empty
		if c.modified {
			r.modified = true
		}
	case f.nchains.Load() < nslots/2:
		c := ctx.tryCompaction(ref)
		if c.completed {
			r.unresizable = false
		}
		if c.modified {
			r.modified = true
		}
		r.empty = false
	default:
		r.empty = false
	}
	return r
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// Hit rate //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// HitrateBuckets is the number of domains reported by Hitrate.
const HitrateBuckets = config.DomainLastFrame + 1

// DomainHitrate is the cache hit rate of the cache frames in one domain.
type DomainHitrate struct {
	Rate   float64 `json:"rate"`
	AccVal int64   `json:"accval"`
	Count  int64   `json:"count"`
}

// collectHitrate adds the hit rates of the cache frames below ref.
func collectHitrate(ref *Cell, out *[HitrateBuckets]DomainHitrate) {
	if !ref.hasFrame() {
		return
	}
	f := ref.frame
	switch f.ftype {
	case frameCache:
		if f.domain < HitrateBuckets {
			out[f.domain].AccVal += int64(f.hitrate())
			out[f.domain].Count++
		}
		for fx := 0; fx < f.nslots(); fx++ {
			collectHitrate(&f.cells[cacheSlot(fx)+cacheChainCell], out)
		}
	case frameInternal:
		for q := 0; q < nchainSlots(f.order); q++ {
			if !f.isChain(q) {
				continue
			}
			for j := 0; j < config.CellsPerSlot; j++ {
				collectHitrate(&f.cells[f.chainSlotCell(q, j)], out)
			}
		}
	}
}
