package framehash

import (
	"framehash/pkg/config"
	"framehash/pkg/hash"
)

// opCtx returns a keyless context for whole-structure operations.
func (fh *Framehash) opCtx() *opContext {
	return &opContext{dyn: fh.dyn, cacheDepth: fh.cacheDepth, ctl: defaultControl, sink: &errorSink{}}
}

// flushLocked writes all dirty cache cells below. Caller holds all subtrees.
func (fh *Framehash) flushLocked(invalidate bool) error {
	ctx := fh.opCtx()
	if r := ctx.cacheFlush(&fh.top, invalidate); r.errored {
		return ctx.cause()
	}
	fh.clean.Store(true)
	return nil
}

// Flush writes every dirty cache cell to the frames below. With invalidate
// the cached copies are dropped as well.
func (fh *Framehash) Flush(invalidate bool) error {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	return fh.flushLocked(invalidate)
}

// Discard removes every item, destroying owned objects.
func (fh *Framehash) Discard() error {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if fh.readonly.Load() > 0 {
		return ErrNoAccess
	}
	if err := fh.discardLocked(); err != nil {
		return err
	}
	fh.opcnt.Add(1)
	fh.persisted.Store(false)
	fh.taintChangelog()
	return nil
}

func (fh *Framehash) discardLocked() error {
	if err := fh.dyn.writable(); err != nil {
		return err
	}
	p := NewProcessor(DestroyObjects)
	p.Readonly = false
	p.reset(fh.dyn, fh.cacheDepth)
	p.run(&fh.top)
	if p.failed {
		return ErrAborted
	}
	if err := fh.dyn.discard(&fh.top); err != nil {
		return err
	}
	fh.nobj.Store(0)
	fh.clean.Store(true)
	return fh.dyn.newFrame(&fh.top, fh.order, config.DomainTop, frameCache, fh.cacheDepth)
}

// Close discards every item and releases all frames. The instance cannot be
// used afterwards.
func (fh *Framehash) Close() error {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if fh.readonly.Load() > 0 {
		return ErrNoAccess
	}
	if err := fh.dyn.writable(); err != nil {
		return err
	}
	p := NewProcessor(DestroyObjects)
	p.Readonly = false
	p.reset(fh.dyn, fh.cacheDepth)
	p.run(&fh.top)
	if err := fh.dyn.discard(&fh.top); err != nil {
		return err
	}
	fh.nobj.Store(0)
	return nil
}

// Compactify rebuilds sparse subtrees into smaller ones and reports whether
// anything changed.
func (fh *Framehash) Compactify() (bool, error) {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if fh.readonly.Load() > 0 {
		return false, ErrNoAccess
	}
	ctx := fh.opCtx()
	r := ctx.compactifySubtree(&fh.top)
	if r.errored {
		return r.modified, ctx.cause()
	}
	return r.completed && r.modified, nil
}

// CompactifyPartial compacts the top-level subtree selected by selector.
func (fh *Framehash) CompactifyPartial(selector uint64) (bool, error) {
	fx := hash.TopIndex(fh.order, selector)
	fh.locker.acquire(fx)
	defer fh.locker.release(fx)
	if fh.readonly.Load() > 0 {
		return false, ErrNoAccess
	}
	ctx := fh.opCtx()
	chain := &fh.top.frame.cells[cacheSlot(fx)+cacheChainCell]
	if !chain.hasFrame() {
		return false, nil
	}
	if fl := ctx.flushSlot(&fh.top, fx, false); fl.errored {
		return false, ctx.cause()
	}
	r := ctx.compactifySubtree(chain)
	if r.errored {
		return r.modified, ctx.cause()
	}
	return r.completed && r.modified, nil
}

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// Readonly //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// SetReadonly enters readonly mode and returns the readonly depth. Caches are
// flushed and the allocators become readonly on the first call.
func (fh *Framehash) SetReadonly() (int, error) {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if fh.readonly.Load() == 0 {
		if !fh.clean.Load() {
			if err := fh.flushLocked(false); err != nil {
				return 0, err
			}
		}
		if err := fh.dyn.setReadonly(); err != nil {
			return 0, err
		}
	}
	return int(fh.readonly.Add(1)), nil
}

// IsReadonly reports whether the instance is in readonly mode.
func (fh *Framehash) IsReadonly() bool {
	return fh.readonly.Load() > 0
}

// ClearReadonly leaves one level of readonly mode and returns the remaining
// depth.
func (fh *Framehash) ClearReadonly() (int, error) {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if fh.readonly.Load() == 0 {
		return 0, nil
	}
	if fh.readonly.Load() == 1 {
		if err := fh.dyn.clearReadonly(); err != nil {
			return 1, err
		}
	}
	return int(fh.readonly.Add(-1)), nil
}

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// Caches ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// EnableReadCaches lets reads fill and use cache cells.
func (fh *Framehash) EnableReadCaches() {
	fh.readCache.Store(fh.cacheDepth >= 0)
}

// DisableReadCaches drops all cached copies and stops filling cache cells.
func (fh *Framehash) DisableReadCaches() error {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if err := fh.flushLocked(true); err != nil {
		return err
	}
	fh.readCache.Store(false)
	return nil
}

// EnableWriteCaches lets writes to cached keys stay in the cache.
func (fh *Framehash) EnableWriteCaches() {
	fh.writeCache.Store(fh.cacheDepth >= 0)
}

// DisableWriteCaches flushes dirty cells and makes writes go through to the
// frames below.
func (fh *Framehash) DisableWriteCaches() error {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	if err := fh.flushLocked(false); err != nil {
		return err
	}
	fh.writeCache.Store(false)
	return nil
}

// ReadCachesEnabled reports whether reads use cache cells.
func (fh *Framehash) ReadCachesEnabled() bool {
	return fh.readCache.Load()
}

// WriteCachesEnabled reports whether writes may stay in cache cells.
func (fh *Framehash) WriteCachesEnabled() bool {
	return fh.writeCache.Load()
}
