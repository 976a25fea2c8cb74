package framehash

import (
	"runtime"
	"sync/atomic"

	"framehash/pkg/allocator"
	"framehash/pkg/config"

	"golang.org/x/sync/errgroup"
)

// Len returns the number of items.
func (fh *Framehash) Len() int64 {
	return fh.nobj.Load()
}

// Masterpath returns the file used by Serialize and Load.
func (fh *Framehash) Masterpath() string {
	return fh.masterpath
}

// SetMasterpath changes the file used by Serialize and Load.
func (fh *Framehash) SetMasterpath(path string) {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	fh.masterpath = path
	if fh.clog != nil {
		fh.clog = newChangelogState(path)
	}
}

// Hitrate returns the cache hit rate of each domain. Rate is the average
// 4-bit hit rate scaled to [0,1].
func (fh *Framehash) Hitrate() [HitrateBuckets]DomainHitrate {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	var out [HitrateBuckets]DomainHitrate
	collectHitrate(&fh.top, &out)
	for i := range out {
		if out[i].Count > 0 {
			out[i].Rate = float64(out[i].AccVal) / float64(out[i].Count) / 15.0
		}
	}
	return out
}

// forEachTopSlot runs fn for every top-level slot in parallel. The caller
// holds all subtrees.
func (fh *Framehash) forEachTopSlot(fn func(fx int) error) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for fx := 0; fx < fh.top.frame.nslots(); fx++ {
		g.Go(func() error { return fn(fx) })
	}
	return g.Wait()
}

// CountActive walks the structure and counts its items. Cached copies are
// flushed first.
func (fh *Framehash) CountActive() (int64, error) {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	var total atomic.Int64
	err := fh.forEachTopSlot(func(fx int) error {
		p := NewProcessor(CountActive)
		p.reset(fh.dyn, fh.cacheDepth)
		var n int64
		p.cacheSlot(&fh.top, fx, &n)
		if p.failed {
			return ErrAborted
		}
		total.Add(n)
		return nil
	})
	return total.Load(), err
}

// PerfCounters holds operation counters of an instance.
type PerfCounters struct {
	Items      int64 `json:"items"`
	Operations int64 `json:"operations"` // Completed writes.
	Reads      int64 `json:"reads"`
	Writes     int64 `json:"writes"`
	BytesInUse int64 `json:"bytes_in_use"`
	Frames     int   `json:"frames"`
}

// PerfCounters returns a snapshot of the operation counters.
func (fh *Framehash) PerfCounters() PerfCounters {
	return PerfCounters{
		Items:      fh.nobj.Load(),
		Operations: fh.opcnt.Load(),
		Reads:      fh.reads.Load(),
		Writes:     fh.writes.Load(),
		BytesInUse: fh.dyn.BytesInUse(),
		Frames:     fh.dyn.Lines(),
	}
}

// CheckAllocators returns the number of allocator accounting errors.
func (fh *Framehash) CheckAllocators() int {
	return fh.dyn.Check()
}

// Info describes an instance.
type Info struct {
	ID           string            `json:"id"`
	Order        int               `json:"order"`
	CacheDepth   int               `json:"cache_depth"`
	Synchronized bool              `json:"synchronized"`
	ShortKeys    bool              `json:"shortkeys"`
	Readonly     int               `json:"readonly"`
	ReadCaches   bool              `json:"read_caches"`
	WriteCaches  bool              `json:"write_caches"`
	Masterpath   string            `json:"masterpath,omitempty"`
	Counters     PerfCounters      `json:"counters"`
	Allocators   []allocator.Stats `json:"allocators"`
	Frames       map[string]int    `json:"frames"`
}

// Info returns a description of the instance.
func (fh *Framehash) Info() Info {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	var summary frameSummary
	summary.collect(&fh.top)
	return Info{
		ID:           fh.id.String(),
		Order:        fh.order,
		CacheDepth:   fh.cacheDepth,
		Synchronized: fh.synchronized,
		ShortKeys:    fh.shortkeys,
		Readonly:     int(fh.readonly.Load()),
		ReadCaches:   fh.readCache.Load(),
		WriteCaches:  fh.writeCache.Load(),
		Masterpath:   fh.masterpath,
		Counters:     fh.PerfCounters(),
		Allocators:   fh.dyn.Stats(),
		Frames:       summary.named(),
	}
}

// frameSummary counts the frames of a structure by type and order.
type frameSummary struct {
	cache     int
	internal  int
	leaf      [config.PMax + 1]int
	basements int
}

func (s *frameSummary) collect(ref *Cell) {
	if !ref.hasFrame() {
		return
	}
	f := ref.frame
	switch f.ftype {
	case frameCache:
		s.cache++
		for fx := 0; fx < f.nslots(); fx++ {
			s.collect(&f.cells[cacheSlot(fx)+cacheChainCell])
		}
	case frameLeaf:
		s.leaf[f.order]++
	case frameInternal:
		s.internal++
		for q := 0; q < nchainSlots(f.order); q++ {
			if f.isChain(q) {
				for j := 0; j < config.CellsPerSlot; j++ {
					s.collect(&f.cells[f.chainSlotCell(q, j)])
				}
			}
		}
	case frameBasement:
		s.basements++
		if f.hasnext {
			s.collect(nextBasement(f))
		}
	}
}

func (s *frameSummary) named() map[string]int {
	m := map[string]int{
		"cache":    s.cache,
		"internal": s.internal,
		"basement": s.basements,
	}
	for p, n := range s.leaf {
		if n > 0 {
			m["leaf"+string(rune('0'+p))] = n
		}
	}
	return m
}
