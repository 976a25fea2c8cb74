// Package framehash implements a hierarchical hash-trie of fixed-size frames
// with write-back caches, per-subtree locking and a word-oriented file format.
package framehash

import (
	"sync"
	"sync/atomic"

	"framehash/pkg/concurrency"
	"framehash/pkg/config"
	"framehash/pkg/hash"

	"github.com/datatrails/go-datatrails-common/logger"
	"github.com/google/uuid"
)

// Options configures a new instance.
type Options struct {
	// Order of the top frame. The top frame has 1<<Order subtrees. Zero
	// selects config.DefaultOrder.
	Order int
	// Synchronized instances lock one subtree per operation. Unsynchronized
	// instances rely on the caller for mutual exclusion.
	Synchronized bool
	// CacheDepth is the deepest domain holding cache frames. Negative values
	// disable caching.
	CacheDepth int
	// ShortKeys records that the owner uses 64-bit keys only. It is persisted
	// in the file header.
	ShortKeys bool
	// Masterpath is the file used by Serialize and Load.
	Masterpath string
	// Changelog enables incremental delta files next to Masterpath.
	Changelog bool
	// Allocators selects owned or shared frame allocators.
	Allocators AllocatorSource
	// Hasher maps plain keys to shortids. Nil selects hash.XxHash64.
	Hasher hash.ShortIDFunc
	// Logger overrides the component logger.
	Logger logger.Logger
}

// DefaultOptions returns synchronized options with caching down to the
// default depth.
func DefaultOptions() Options {
	return Options{
		Order:        config.DefaultOrder,
		Synchronized: true,
		CacheDepth:   config.DefaultMaxCacheDepth,
	}
}

// subtreeLocker guards the top-level subtrees of an instance.
type subtreeLocker interface {
	acquire(slot int)
	release(slot int)
	acquireAll()
	releaseAll()
}

type syncLocker struct {
	guard *concurrency.SubtreeGuard
}

func (l syncLocker) acquire(slot int) { l.guard.Acquire(slot) }
func (l syncLocker) release(slot int) { l.guard.Release(slot) }
func (l syncLocker) acquireAll()      { l.guard.AcquireAll() }
func (l syncLocker) releaseAll()      { l.guard.ReleaseAll() }

type nopLocker struct{}

func (nopLocker) acquire(int) {}
func (nopLocker) release(int) {}
func (nopLocker) acquireAll() {}
func (nopLocker) releaseAll() {}

// Framehash is a map from 64-bit or 128-bit keys to tagged values.
type Framehash struct {
	id           hash.ObjectID
	order        int
	cacheDepth   int
	synchronized bool
	shortkeys    bool
	masterpath   string

	top    Cell
	dyn    *Dynamic
	locker subtreeLocker
	log    logger.Logger

	nobj     atomic.Int64
	opcnt    atomic.Int64
	readonly atomic.Int32
	clean    atomic.Bool // No writes since the caches were last flushed.

	readCache  atomic.Bool
	writeCache atomic.Bool

	reads  atomic.Int64
	writes atomic.Int64

	persisted atomic.Bool // The masterpath file holds the current state.
	dontenter atomic.Bool // Set while the instance is being serialized.
	serMtx    sync.Mutex
	clog      *changelogState
}

// NewObjectID returns a random 128-bit id.
func NewObjectID() hash.ObjectID {
	u := uuid.New()
	return hash.ObjectIDFromBytes(u[:])
}

// New returns an empty instance.
func New(opts Options) (*Framehash, error) {
	order := opts.Order
	if order == 0 {
		order = config.DefaultOrder
	}
	order = clamp(order, config.MinOrder, config.MaxOrder)
	cacheDepth := opts.CacheDepth
	if cacheDepth >= 0 {
		cacheDepth = clamp(cacheDepth, config.DomainTop, config.DefaultMaxCacheDepth)
	} else {
		cacheDepth = -1
	}

	fh := &Framehash{
		id:           NewObjectID(),
		order:        order,
		cacheDepth:   cacheDepth,
		synchronized: opts.Synchronized,
		shortkeys:    opts.ShortKeys,
		masterpath:   opts.Masterpath,
		dyn:          newDynamic(opts.Allocators, opts.Hasher),
		log:          opts.Logger,
	}
	if fh.log == nil {
		fh.log = componentLogger(config.Name)
	}
	if fh.synchronized {
		fh.locker = syncLocker{guard: concurrency.NewSubtreeGuard(1 << uint(order))}
	} else {
		fh.locker = nopLocker{}
	}
	fh.readCache.Store(cacheDepth >= 0)
	fh.writeCache.Store(cacheDepth >= 0)
	fh.clean.Store(true)
	if err := fh.dyn.newFrame(&fh.top, order, config.DomainTop, frameCache, cacheDepth); err != nil {
		return nil, err
	}
	if opts.Changelog {
		if opts.Masterpath == "" {
			fh.dyn.discard(&fh.top)
			return nil, ErrNoMasterpath
		}
		fh.clog = newChangelogState(opts.Masterpath)
	}
	return fh, nil
}

// ID returns the object id of the instance.
func (fh *Framehash) ID() hash.ObjectID {
	return fh.id
}

// Dynamic returns the allocators and hasher used by the instance.
func (fh *Framehash) Dynamic() *Dynamic {
	return fh.dyn
}

// Order returns the order of the top frame.
func (fh *Framehash) Order() int {
	return fh.order
}

// CacheDepth returns the deepest caching domain, or -1.
func (fh *Framehash) CacheDepth() int {
	return fh.cacheDepth
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// Operation glue //////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// newOp returns a context for key under the instance's cache policy.
func (fh *Framehash) newOp(key Key) *opContext {
	ctl := control{
		enableRead:  fh.readCache.Load(),
		enableWrite: fh.writeCache.Load(),
		readonly:    fh.readonly.Load() > 0,
	}
	return newContext(fh.dyn, key, fh.cacheDepth, ctl)
}

func (fh *Framehash) slotOf(ctx *opContext) int {
	return hash.TopIndex(fh.order, ctx.selector())
}

// modified updates the counters after a write.
func (fh *Framehash) modified(r result, delta int64) {
	if r.delta {
		fh.nobj.Add(delta)
	}
	if r.completed {
		fh.opcnt.Add(1)
		fh.clean.Store(false)
		fh.persisted.Store(false)
	}
}

// actionCode maps a result to the value type reported by the APIs.
func actionCode(ctx *opContext, r result, vtype ValueType) (ValueType, error) {
	switch {
	case r.completed:
		return vtype, nil
	case r.errored:
		return ValueError, ctx.cause()
	default:
		return ValueNull, nil
	}
}

func validKeyType(t KeyType) bool {
	return t == KeyPlain64 || t == KeyHash64 || t == KeyHash128
}

// checkValue rejects key and value combinations that cannot be stored.
func checkValue(key Key, v Value) error {
	if !validKeyType(key.typ) {
		return ErrIncompatible
	}
	switch v.typ {
	case ValueNull, ValueMember, ValueBoolean, ValueUnsigned, ValueInteger, ValueReal, ValuePointer:
		return nil
	case ValueObject64:
		if key.typ == KeyHash128 || v.obj == nil {
			return ErrIncompatible
		}
		return nil
	case ValueObject128:
		if key.typ != KeyHash128 || v.obj == nil || v.obj.ObjectID() != key.id {
			return ErrIncompatible
		}
		return nil
	default:
		return ErrIncompatible
	}
}

func (fh *Framehash) set(key Key, v Value) (ValueType, error) {
	if err := checkValue(key, v); err != nil {
		return ValueError, err
	}
	if v.typ == ValueNull {
		return fh.del(key)
	}
	ctx := fh.newOp(key)
	ctx.value = v
	slot := fh.slotOf(ctx)
	fh.locker.acquire(slot)
	defer fh.locker.release(slot)
	fh.writes.Add(1)
	if fh.readonly.Load() > 0 {
		return ValueNoAccess, ErrNoAccess
	}
	r := ctx.radixSet(&fh.top)
	fh.modified(r, 1)
	if r.completed {
		fh.emit(opSet, key, v)
	}
	return actionCode(ctx, r, v.typ)
}

func (fh *Framehash) del(key Key) (ValueType, error) {
	if !validKeyType(key.typ) {
		return ValueError, ErrIncompatible
	}
	ctx := fh.newOp(key)
	slot := fh.slotOf(ctx)
	fh.locker.acquire(slot)
	defer fh.locker.release(slot)
	fh.writes.Add(1)
	if fh.readonly.Load() > 0 {
		return ValueNoAccess, ErrNoAccess
	}
	r := ctx.radixDel(&fh.top)
	fh.modified(r, -1)
	if r.completed {
		fh.emit(opDel, key, Null())
	}
	return actionCode(ctx, r, ctx.value.typ)
}

func (fh *Framehash) get(key Key) (Value, error) {
	if !validKeyType(key.typ) {
		return Value{typ: ValueError}, ErrIncompatible
	}
	ctx := fh.newOp(key)
	slot := fh.slotOf(ctx)
	fh.locker.acquire(slot)
	defer fh.locker.release(slot)
	fh.reads.Add(1)
	r := ctx.radixGet(&fh.top)
	switch {
	case r.completed:
		return ctx.value, nil
	case r.errored:
		return Value{typ: ValueError}, ctx.cause()
	default:
		return Null(), nil
	}
}
