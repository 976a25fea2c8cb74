package framehash

import (
	"framehash/pkg/config"
)

// basementProbe scans the six cells of a basement. Basements have no hashing,
// so an END cell always stops the probe.
func (ctx *opContext) basementProbe(f *frame, available bool) (*Cell, bool) {
	var target *Cell
	if ctx.probeCells(f.cells[:config.BasementSize], available, &target) {
		return target, true
	}
	return nil, false
}

// nextBasement returns the reference to the basement after f.
func nextBasement(f *frame) *Cell {
	return &f.cells[basementNext]
}

// basementCleanup replaces an empty basement with the next one in the list.
func (ctx *opContext) basementCleanup(ref *Cell) {
	for {
		f := ref.frame
		if f.nactive != 0 || !f.hasnext {
			return
		}
		next := nextBasement(f)
		if !next.hasFrame() {
			panic("framehash: basement " + f.String() + " has a null next reference")
		}
		domain := f.domain
		var tmp Cell
		tmp.steal(next)
		f.hasnext = false
		if err := ctx.dyn.discard(ref); err != nil {
			next.steal(&tmp)
			f.hasnext = true
			return
		}
		ref.steal(&tmp)
		ref.frame.domain = domain
	}
}

func (ctx *opContext) basementSet(ref *Cell) result {
	var r result
	f := ref.frame
	if c, hit := ctx.basementProbe(f, true); hit {
		if !c.IsItem() {
			f.nactive++
			r.delta = true
		} else {
			ctx.replaceItem(c)
		}
		ctx.store(c)
		r.completed = true
		r.depth = f.domain
		return r
	}
	next := nextBasement(f)
	if !f.hasnext {
		if next.hasFrame() {
			panic("framehash: basement " + f.String() + " has a dangling next reference")
		}
		if f.domain >= config.DomainLastBasement {
			ctx.fail(ErrCapacity)
			r.depth = f.domain
			r.unresizable = true
			r.errored = true
			return r
		}
		if err := ctx.dyn.newBasement(next, f.domain+1); err != nil {
			ctx.fail(err)
			r.errored = true
			return r
		}
		f.hasnext = true
	}
	return ctx.basementSet(next)
}

func (ctx *opContext) basementGet(ref *Cell) result {
	var r result
	f := ref.frame
	if c, hit := ctx.basementProbe(f, false); hit {
		ctx.loadValue(c)
		r.completed = true
		r.depth = f.domain
	} else if f.hasnext {
		r = ctx.basementGet(nextBasement(f))
	} else {
		ctx.value = Null()
		r.depth = f.domain
	}
	r.cacheable = ctx.ctl.enableRead
	return r
}

func (ctx *opContext) basementDel(ref *Cell) result {
	var r result
	f := ref.frame
	if c, hit := ctx.basementProbe(f, false); hit {
		r.delta = true
		r.completed = true
		r.depth = f.domain
		ctx.value = Value{typ: c.vtype}
		if deleteFrameItem(f, c) == 0 {
			ctx.basementCleanup(ref)
			if ref.frame.nactive == 0 {
				r.empty = true
				r.unresizable = true
			}
		}
		return r
	}
	if f.hasnext {
		next := nextBasement(f)
		r = ctx.basementDel(next)
		if r.empty && !next.frame.hasnext {
			// Trailing basement is empty.
			if err := ctx.dyn.discard(next); err != nil {
				r.empty = false
				r.unresizable = false
				return r
			}
			f.hasnext = false
			r.empty = f.nactive == 0
			r.unresizable = r.empty
		}
		return r
	}
	r.depth = f.domain
	return r
}
