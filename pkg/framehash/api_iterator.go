package framehash

import "framehash/pkg/hash"

// Process applies p to every item. All subtrees are locked for the walk.
func (fh *Framehash) Process(p *Processor) (int64, error) {
	fh.locker.acquireAll()
	defer fh.locker.releaseAll()
	return fh.process(p, func() int64 { return p.run(&fh.top) })
}

// ProcessPartial applies p to the items of the top-level subtree selected by
// selector, the high part of an object id.
func (fh *Framehash) ProcessPartial(p *Processor, selector uint64) (int64, error) {
	slot := hash.TopIndex(fh.order, selector)
	fh.locker.acquire(slot)
	defer fh.locker.release(slot)
	return fh.process(p, func() int64 { return p.runPartial(&fh.top, selector) })
}

func (fh *Framehash) process(p *Processor, run func() int64) (int64, error) {
	if !p.Readonly && fh.readonly.Load() > 0 {
		return -1, ErrNoAccess
	}
	p.reset(fh.dyn, fh.cacheDepth)
	n := run()
	if !p.Readonly {
		fh.nobj.Add(p.deltaItems)
		fh.opcnt.Add(1)
		fh.clean.Store(false)
		fh.persisted.Store(false)
		fh.taintChangelog()
	}
	return n, p.err()
}

// Items returns every item.
func (fh *Framehash) Items() ([]Item, error) {
	out := make([]Item, 0, int(fh.Len()))
	p := NewProcessor(CollectItems)
	p.Output = &out
	_, err := fh.Process(p)
	return out, err
}

// Keys returns every key.
func (fh *Framehash) Keys() ([]Key, error) {
	out := make([]Key, 0, int(fh.Len()))
	p := NewProcessor(CollectKeys)
	p.Output = &out
	_, err := fh.Process(p)
	return out, err
}

// Values returns every value.
func (fh *Framehash) Values() ([]Value, error) {
	out := make([]Value, 0, int(fh.Len()))
	p := NewProcessor(CollectValues)
	p.Output = &out
	_, err := fh.Process(p)
	return out, err
}

// Objects returns every object value.
func (fh *Framehash) Objects() ([]Object, error) {
	var out []Object
	p := NewProcessor(CollectObjects)
	p.Output = &out
	_, err := fh.Process(p)
	return out, err
}
