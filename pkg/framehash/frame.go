package framehash

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"framehash/pkg/config"
	"framehash/pkg/hash"
)

type frameType uint8

const (
	frameNone frameType = iota
	frameCache
	frameLeaf
	frameInternal
	frameBasement
)

func (t frameType) String() string {
	switch t {
	case frameCache:
		return "cache"
	case frameLeaf:
		return "leaf"
	case frameInternal:
		return "internal"
	case frameBasement:
		return "basement"
	default:
		return "none"
	}
}

type cacheType uint8

const (
	cacheNone   cacheType = iota
	cacheStatic           // Top frame. Never compacted or discarded.
	cacheCMorph           // Internal frame converted into a cache. May shrink again.
)

const (
	cacheCellsPerSlot = 3 // Cells 0..2 of a cache slot hold cached items.
	cacheChainCell    = 3 // Cell 3 of a cache slot references the real subtree.
	cacheVictim       = 2 // Cell evicted to make room for a fill.
	basementNext      = config.BasementSize
)

// frame is a fixed-capacity array of cells plus its metas.
//
// Leaf and internal frames of order p have a 2-cell half slot at cells[0:2]
// followed by 2^p-1 slots of 4 cells. The slots form zones k=p-1..0 holding
// 2^k slots each, largest zone first. Cache frames have 2^p slots of 4
// cells. Basements have 6 cells and a next reference.
type frame struct {
	ftype     frameType
	order     int
	domain    int
	nactive   int
	chainbits uint16 // Internal: chain slots in zone p-2.
	hasnext   bool   // Basement: cells[basementNext] is a chain.
	cancache  bool
	cachetyp  cacheType
	dobalance bool
	nchains   atomic.Int32  // Cache: non-null chain cells.
	hitacc    atomic.Uint32 // Cache: 8-bit hit rate accumulator.
	cells     []Cell
}

func frameClass(ftype frameType, order int) int {
	return int(ftype)<<4 | order
}

func classType(class int) frameType {
	return frameType(class >> 4)
}

func classOrder(class int) int {
	return class & 0xF
}

func cellCount(ftype frameType, order int) int {
	switch ftype {
	case frameCache:
		return config.CellsPerSlot << uint(order)
	case frameBasement:
		return config.BasementSize + 1
	default:
		return config.CellsPerHalfSlot + config.CellsPerSlot*frameSlots(order)
	}
}

// frameSlots is the number of full slots in a leaf or internal frame.
func frameSlots(p int) int {
	return (1 << uint(p)) - 1
}

// chainZone is the zone whose slots may become chain slots.
func chainZone(p int) int {
	return p - 2
}

func nchainSlots(p int) int {
	return 1 << uint(p-2)
}

// frameIndex returns the slot index of slot q in zone k of a frame of order p.
func frameIndex(p, k, q int) int {
	return (1 << uint(p)) - (1 << uint(k+1)) + q
}

// slotCell returns the cell index of cell j in slot fx of a leaf or internal frame.
func slotCell(fx, j int) int {
	return config.CellsPerHalfSlot + fx*config.CellsPerSlot + j
}

func (f *frame) reset(ftype frameType, order, domain int) {
	n := cellCount(ftype, order)
	if cap(f.cells) >= n {
		f.cells = f.cells[:n]
		clear(f.cells)
	} else {
		f.cells = make([]Cell, n)
	}
	f.ftype = ftype
	f.order = order
	f.domain = domain
	f.nactive = 0
	f.chainbits = 0
	f.hasnext = false
	f.cancache = false
	f.cachetyp = cacheNone
	f.dobalance = false
	f.nchains.Store(0)
	f.hitacc.Store(0)
}

func (f *frame) isChain(q int) bool {
	return f.chainbits&(1<<uint(q)) != 0
}

// chainSlotCell returns the index of cell j in chain slot q.
func (f *frame) chainSlotCell(q, j int) int {
	return slotCell(frameIndex(f.order, chainZone(f.order), q), j)
}

// cacheSlot returns the first cell index of cache slot fx.
func cacheSlot(fx int) int {
	return fx * config.CellsPerSlot
}

func (f *frame) nslots() int {
	if f.ftype == frameCache {
		return 1 << uint(f.order)
	}
	return frameSlots(f.order)
}

// loadFactor returns the fill level of the frame in percent.
func (f *frame) loadFactor() int {
	const factor = 100 / config.CellsPerSlot
	p := f.order
	if f.nactive == 0 {
		return 0
	}
	switch f.ftype {
	case frameInternal:
		return factor * f.nactive / (frameSlots(p) - bits.OnesCount16(f.chainbits))
	case frameLeaf:
		if p == 0 {
			return 0
		}
		return factor * f.nactive / frameSlots(p)
	case frameBasement:
		return factor * f.nactive / config.BasementSize
	default:
		return 0
	}
}

// hitrate returns the 4-bit hit rate of a cache frame.
func (f *frame) hitrate() int {
	return int(f.hitacc.Load()>>4) & 0xF
}

func (f *frame) cacheHit() {
	acc := f.hitacc.Load()
	f.hitacc.Store((acc + ((^acc & 0xFF) >> 4)) & 0xFF)
}

func (f *frame) cacheMiss() {
	acc := f.hitacc.Load()
	f.hitacc.Store(acc - acc>>4)
}

func (f *frame) String() string {
	switch f.ftype {
	case frameCache:
		return fmt.Sprintf("cache(p=%d d=%d nchains=%d)", f.order, f.domain, f.nchains.Load())
	case frameInternal:
		return fmt.Sprintf("internal(p=%d d=%d n=%d c=%016b)", f.order, f.domain, f.nactive, f.chainbits)
	case frameBasement:
		return fmt.Sprintf("basement(d=%d n=%d next=%t)", f.domain, f.nactive, f.hasnext)
	default:
		return fmt.Sprintf("%s(p=%d d=%d n=%d)", f.ftype, f.order, f.domain, f.nactive)
	}
}

// chainIndex returns the chain index of a shortid in a frame at domain.
func chainIndex(domain int, shortid uint64) int {
	return hash.ChainIndex(config.PMax, hash.Bits(domain, shortid))
}
