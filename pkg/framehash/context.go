package framehash

import (
	"framehash/pkg/hash"
)

// control holds per-operation policy flags.
type control struct {
	enableRead     bool // Cache frames may serve and fill reads.
	enableWrite    bool // Cache frames may hold dirty writes.
	expectNonexist bool // Rehash: the key is known to be absent.
	minimalGrowth  bool // Grow leaves one order at a time.
	readonly       bool // Reads may run concurrently: no cache fills.
	highLoad       int  // Expansion threshold in percent, 0 for the default rule.
	lowLoad        int  // Reduction threshold in percent, 0 for the default rule.
}

// opContext carries the key, the value and the policy of one radix operation.
type opContext struct {
	dyn        *Dynamic
	cacheDepth int
	ktype      KeyType
	key        uint64 // Plain key, or shortid for hashed keys.
	shortid    uint64
	id         hash.ObjectID
	obid       *hash.ObjectID // Points at id for 128-bit keys, nil when unknown.
	value      Value
	ctl        control
	sink       *errorSink
}

// errorSink records the first failure seen by an operation and the contexts
// derived from it.
type errorSink struct {
	err error
}

// result is the flag record returned by every radix operation.
type result struct {
	completed   bool
	modified    bool // A frame below the caller's reference was replaced.
	delta       bool // The item count changed by one.
	empty       bool // The subtree holds nothing and may be destroyed.
	unresizable bool
	errored     bool
	cacheable   bool
	depth       int
}

func newContext(dyn *Dynamic, key Key, cacheDepth int, ctl control) *opContext {
	ctx := &opContext{dyn: dyn, cacheDepth: cacheDepth, ctl: ctl, sink: &errorSink{}}
	ctx.setKey(key)
	return ctx
}

func (ctx *opContext) setKey(key Key) {
	ctx.ktype = key.typ
	ctx.key = key.key
	ctx.obid = nil
	switch key.typ {
	case KeyPlain64:
		ctx.shortid = ctx.dyn.shortid(key.key)
	case KeyHash64:
		ctx.shortid = key.key
	case KeyHash128:
		ctx.shortid = key.id.L
		ctx.id = key.id
		ctx.obid = &ctx.id
	}
}

// cellContext returns a context for moving the item in c elsewhere under ctl.
func (ctx *opContext) cellContext(c *Cell, ctl control) *opContext {
	sub := &opContext{dyn: ctx.dyn, cacheDepth: ctx.cacheDepth, ctl: ctl, sink: ctx.sink}
	sub.loadFromCell(c)
	return sub
}

// derive returns a copy of ctx whose obid refers to the copy.
func (ctx *opContext) derive() *opContext {
	sub := *ctx
	if ctx.obid != nil {
		sub.obid = &sub.id
	}
	return &sub
}

// fail records err as the cause of a failed operation.
func (ctx *opContext) fail(err error) {
	if ctx.sink.err == nil {
		ctx.sink.err = err
	}
}

// cause returns the recorded failure, or ErrCapacity when none was recorded.
func (ctx *opContext) cause() error {
	if ctx.sink.err == nil {
		return ErrCapacity
	}
	return ctx.sink.err
}

// selector returns the value that picks the top-level slot of the key.
func (ctx *opContext) selector() uint64 {
	if ctx.obid != nil {
		return ctx.obid.H
	}
	return hash.Surrogate(ctx.shortid).H
}

// chainIndex returns the chain index of the key in a frame at domain.
func (ctx *opContext) chainIndex(domain int) int {
	return chainIndex(domain, ctx.shortid)
}
