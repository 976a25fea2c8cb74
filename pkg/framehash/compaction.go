package framehash

import (
	"math/bits"

	"framehash/pkg/config"

	"golang.org/x/exp/constraints"
)

// imag2 returns the smallest p with 1<<p >= x, or -1 for zero.
func imag2[T constraints.Integer](x T) int {
	switch {
	case x > 1:
		return bits.Len64(uint64(x - 1))
	case x == 1:
		return 0
	default:
		return -1
	}
}

func clamp[T constraints.Ordered](x, lo, hi T) T {
	return max(lo, min(x, hi))
}

// subtreeCount counts the items below ref, stopping at limit.
func (d *Dynamic) subtreeCount(ref *Cell, limit int64) int64 {
	p := NewProcessor(CountActive)
	p.Limit = limit
	p.AllowCached = false
	p.reset(d, -1)
	return p.run(ref)
}

// tryCompaction rebuilds the subtree referenced by ref as a single leaf
// structure of a smaller estimated order, moving every item. The old subtree
// is discarded only when every item was transferred.
func (ctx *opContext) tryCompaction(ref *Cell) result {
	var r result
	f := ref.frame
	order := config.PMax / 2

	switch {
	case f.ftype == frameCache:
		if f.domain == config.DomainTop {
			panic("framehash: compaction of the top cache frame")
		}
		if ctx.cacheFlush(ref, false).errored {
			r.errored = true
			return r
		}
	case f.ftype == frameLeaf:
		if f.nactive > config.CellsPerHalfSlot {
			nslots := 1 + (((1127*f.nactive)>>10)-1)/config.CellsPerSlot
			order = imag2(nslots + 1)
		} else {
			order = 0
		}
		if order >= f.order {
			return r
		}
	case f.domain > config.DomainLastFrame:
		return r
	}

	var compact Cell
	if err := ctx.dyn.newFrame(&compact, order, f.domain, frameLeaf, ctx.cacheDepth); err != nil {
		ctx.fail(err)
		r.errored = true
		return r
	}
	sub := &opContext{dyn: ctx.dyn, cacheDepth: ctx.cacheDepth, ctl: rehashControl, sink: ctx.sink}
	proc := NewProcessor(transferCell)
	proc.Input = &transferInput{ctx: sub, dst: &compact}
	proc.reset(ctx.dyn, ctx.cacheDepth)
	n := proc.run(ref)
	if proc.Failed() {
		ctx.dyn.discard(&compact)
		r.errored = true
		return r
	}
	before := f.String()
	if err := ctx.dyn.discard(ref); err != nil {
		ctx.dyn.discard(&compact)
		r.errored = true
		return r
	}
	ref.steal(&compact)
	ctx.dyn.log.Debugf("compacted %s into %s", before, ref.frame)
	r.modified = true
	r.completed = true
	r.empty = n == 0
	return r
}

// compactifySubtree compacts every part of the subtree referenced by ref that
// has become sparse.
func (ctx *opContext) compactifySubtree(ref *Cell) result {
	if !ref.hasFrame() {
		return result{}
	}
	switch ref.frame.ftype {
	case frameCache:
		return ctx.compactifyCache(ref)
	case frameLeaf:
		return ctx.tryCompaction(ref)
	case frameInternal:
		return ctx.compactifyInternal(ref)
	default:
		return result{}
	}
}

func (ctx *opContext) compactifyCache(ref *Cell) result {
	var r result
	f := ref.frame
	for fx := 0; fx < f.nslots(); fx++ {
		chain := &f.cells[cacheSlot(fx)+cacheChainCell]
		if !chain.hasFrame() {
			continue
		}
		sub := ctx.compactifySubtree(chain)
		if sub.completed && sub.modified {
			r.completed = true
			r.modified = true
		} else if sub.errored {
			r.errored = true
		}
	}
	return r
}

func (ctx *opContext) compactifyInternal(ref *Cell) result {
	const unknown = 1 << 30
	maxLeafCapacity := frameSlots(config.PMax) * config.CellsPerSlot

	var r result
	f := ref.frame
	estimate := f.nactive
	for q := 0; q < nchainSlots(f.order); q++ {
		if !f.isChain(q) {
			continue
		}
		for j := 0; j < config.CellsPerSlot; j++ {
			chain := &f.cells[f.chainSlotCell(q, j)]
			if ctx.compactifySubtree(chain).completed {
				r.completed = true
			}
			if !chain.hasFrame() {
				continue
			}
			if t := chain.frame.ftype; t == frameLeaf || (t == frameBasement && !chain.frame.hasnext) {
				estimate += chain.frame.nactive
			} else {
				estimate += unknown
			}
		}
	}
	load := config.MaxLoadFactor
	if ctx.ctl.highLoad > 0 {
		load = ctx.ctl.highLoad
	}
	if estimate < (maxLeafCapacity*load)>>7 {
		return ctx.tryCompaction(ref)
	}
	return r
}
