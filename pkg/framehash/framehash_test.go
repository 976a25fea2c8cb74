package framehash_test

import (
	"sync"
	"testing"

	"framehash/pkg/framehash"
	"framehash/pkg/hash"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =====================================================================
// HELPERS
// =====================================================================

// testObject counts how often it was destroyed.
type testObject struct {
	id        hash.ObjectID
	destroyed int
}

func newTestObject() *testObject {
	return &testObject{id: framehash.NewObjectID()}
}

func (o *testObject) ObjectID() hash.ObjectID { return o.id }
func (o *testObject) Destroy()                { o.destroyed++ }

// setupMap returns an empty synchronized map with the given cache depth.
func setupMap(t *testing.T, cacheDepth int) *framehash.Framehash {
	t.Helper()
	opts := framehash.DefaultOptions()
	opts.CacheDepth = cacheDepth
	fh, err := framehash.New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fh.Close() })
	return fh
}

// fill sets keys [0,n) to i*i.
func fill(t *testing.T, fh *framehash.Framehash, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := fh.SetInt(framehash.PlainKey(uint64(i)), int64(i*i))
		require.NoError(t, err)
	}
}

// checkFill verifies keys [0,n) hold i*i.
func checkFill(t *testing.T, fh *framehash.Framehash, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		v, ok, err := fh.GetInt(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		require.True(t, ok, "key %d", i)
		require.Equal(t, int64(i*i), v, "key %d", i)
	}
}

// =====================================================================
// TESTS
// =====================================================================

func TestFramehash(t *testing.T) {
	t.Run("InsertOverwriteDelete", testInsertOverwriteDelete)
	t.Run("KeyTypes", testKeyTypes)
	t.Run("Incompatible", testIncompatible)
	t.Run("Inc", testInc)
	t.Run("Objects", testObjects)
	t.Run("LargeScale", testLargeScale)
	t.Run("LargeScaleCached", testLargeScaleCached)
	t.Run("ChainSymmetry", testChainSymmetry)
	t.Run("Readonly", testReadonly)
	t.Run("CacheFlush", testCacheFlush)
	t.Run("WriteCacheToggle", testWriteCacheToggle)
	t.Run("Compactify", testCompactify)
	t.Run("Discard", testDiscard)
	t.Run("Iteration", testIteration)
	t.Run("Concurrent", testConcurrent)
	t.Run("SharedAllocators", testSharedAllocators)
	t.Run("SharedReadonly", testSharedReadonly)
	t.Run("DiscardSharedReadonly", testDiscardSharedReadonly)
	t.Run("DestroyObjects", testDestroyObjects)
	t.Run("Info", testInfo)
}

func testInsertOverwriteDelete(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	k := framehash.PlainKey(123)

	vt, err := fh.SetInt(k, 1000)
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueInteger, vt)
	assert.Equal(t, int64(1), fh.Len())

	v, ok, err := fh.GetInt(k)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1000), v)

	_, ok, err = fh.GetInt(framehash.PlainKey(456))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fh.SetInt(k, 2000)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fh.Len())
	v, _, err = fh.GetInt(k)
	require.NoError(t, err)
	assert.Equal(t, int64(2000), v)

	vt, err = fh.Delete(k)
	require.NoError(t, err)
	assert.NotEqual(t, framehash.ValueNull, vt)
	assert.Equal(t, int64(0), fh.Len())
	has, err := fh.Has(k)
	require.NoError(t, err)
	assert.False(t, has)

	vt, err = fh.Delete(k)
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueNull, vt)

	// Setting Null deletes.
	_, err = fh.SetInt(k, 1)
	require.NoError(t, err)
	_, err = fh.Set(k, framehash.Null())
	require.NoError(t, err)
	assert.Equal(t, int64(0), fh.Len())
}

func testKeyTypes(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 1)
	id := framehash.NewObjectID()

	_, err := fh.Set(framehash.PlainKey(7), framehash.Real(1.5))
	require.NoError(t, err)
	_, err = fh.Set(framehash.HashKey(7), framehash.Unsigned(9))
	require.NoError(t, err)
	_, err = fh.Set(framehash.IDKey(id), framehash.Bool(true))
	require.NoError(t, err)
	_, err = fh.SetMember(framehash.HashKey(8))
	require.NoError(t, err)
	assert.Equal(t, int64(4), fh.Len())

	v, err := fh.Get(framehash.PlainKey(7))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueReal, v.Type())
	assert.Equal(t, 1.5, v.Real())

	v, err = fh.Get(framehash.HashKey(7))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueUnsigned, v.Type())
	assert.Equal(t, uint64(9), v.Unsigned())

	v, err = fh.Get(framehash.IDKey(id))
	require.NoError(t, err)
	assert.True(t, v.Bool())

	// Same low half, different high half.
	other := hash.ObjectID{H: id.H + 1, L: id.L}
	has, err := fh.Has(framehash.IDKey(other))
	require.NoError(t, err)
	assert.False(t, has)

	v, err = fh.Get(framehash.HashKey(8))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueMember, v.Type())
}

func testIncompatible(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 1)
	id := framehash.NewObjectID()

	_, err := fh.SetInt(framehash.IDKey(id), 1)
	assert.ErrorIs(t, err, framehash.ErrIncompatible)
	_, err = fh.Inc(framehash.IDKey(id), framehash.Int(1))
	assert.ErrorIs(t, err, framehash.ErrIncompatible)
	_, err = fh.Inc(framehash.PlainKey(1), framehash.Member())
	assert.ErrorIs(t, err, framehash.ErrIncompatible)

	// Object128 must be stored under its own id.
	o := newTestObject()
	_, err = fh.Set(framehash.IDKey(id), framehash.Object128(o))
	assert.ErrorIs(t, err, framehash.ErrIncompatible)
	_, err = fh.Set(framehash.PlainKey(1), framehash.Object128(o))
	assert.ErrorIs(t, err, framehash.ErrIncompatible)

	_, err = fh.Set(framehash.Key{}, framehash.Int(1))
	assert.ErrorIs(t, err, framehash.ErrIncompatible)
	assert.Equal(t, int64(0), fh.Len())

	_, err = fh.SetMember(framehash.PlainKey(2))
	require.NoError(t, err)
	_, err = fh.IncInt(framehash.PlainKey(2), 1)
	assert.ErrorIs(t, err, framehash.ErrIncompatible)
}

func testInc(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	k := framehash.PlainKey(111)

	v, err := fh.IncInt(k, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)
	v, err = fh.IncInt(k, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v)
	v, err = fh.IncInt(k, -1)
	require.NoError(t, err)
	assert.Equal(t, int64(999), v)
	assert.Equal(t, int64(1), fh.Len())

	r, err := fh.IncReal(k, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 999.5, r)
	got, err := fh.Get(k)
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueReal, got.Type())

	u := framehash.PlainKey(5)
	_, err = fh.Set(u, framehash.Unsigned(10))
	require.NoError(t, err)
	sum, err := fh.Inc(u, framehash.Int(-3))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueInteger, sum.Type())
	assert.Equal(t, int64(7), sum.Int())

	p := framehash.PlainKey(6)
	_, err = fh.SetPointer(p, 0x1000)
	require.NoError(t, err)
	addr, err := fh.IncPointer(p, 0x10)
	require.NoError(t, err)
	assert.Equal(t, uintptr(0x1010), addr)
}

func testObjects(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)

	owned := newTestObject()
	_, err := fh.SetObject128(owned)
	require.NoError(t, err)
	got, err := fh.GetObject128(owned.id)
	require.NoError(t, err)
	assert.Same(t, owned, got)

	// Replacing an owned object destroys it.
	_, err = fh.Set(framehash.IDKey(owned.id), framehash.Int(1))
	require.NoError(t, err)
	assert.Equal(t, 1, owned.destroyed)

	owned2 := newTestObject()
	_, err = fh.SetObject128(owned2)
	require.NoError(t, err)
	_, err = fh.DelObject128(owned2.id)
	require.NoError(t, err)
	assert.Equal(t, 1, owned2.destroyed)

	borrowed := newTestObject()
	_, err = fh.SetBorrowedObject128(borrowed)
	require.NoError(t, err)
	_, err = fh.DelObject128(borrowed.id)
	require.NoError(t, err)
	assert.Equal(t, 0, borrowed.destroyed)

	ref := newTestObject()
	_, err = fh.SetObject(framehash.PlainKey(42), ref)
	require.NoError(t, err)
	o, err := fh.GetObject(framehash.PlainKey(42))
	require.NoError(t, err)
	assert.Same(t, ref, o)

	kept := newTestObject()
	_, err = fh.SetObject128(kept)
	require.NoError(t, err)
	objs, err := fh.Objects()
	require.NoError(t, err)
	assert.Len(t, objs, 2)

	require.NoError(t, fh.Discard())
	assert.Equal(t, 1, kept.destroyed)
	assert.Equal(t, 0, ref.destroyed)
	assert.Equal(t, int64(0), fh.Len())
}

func testLargeScale(t *testing.T) {
	t.Parallel()
	n := 1_000_000
	if testing.Short() {
		n = 50_000
	}
	fh := setupMap(t, -1)
	fill(t, fh, n)
	assert.Equal(t, int64(n), fh.Len())
	checkFill(t, fh, n)
	cnt, err := fh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(n), cnt)
	info := fh.Info()
	assert.Positive(t, info.Frames["internal"])

	for i := 0; i < n; i++ {
		vt, err := fh.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		require.NotEqual(t, framehash.ValueNull, vt, "key %d", i)
	}
	assert.Equal(t, int64(0), fh.Len())
	for i := 0; i < n; i += 97 {
		has, err := fh.HasKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		require.False(t, has)
	}
	cnt, err = fh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(0), cnt)
	assert.Equal(t, 0, fh.CheckAllocators())
}

func testLargeScaleCached(t *testing.T) {
	t.Parallel()
	n := 200_000
	if testing.Short() {
		n = 20_000
	}
	fh := setupMap(t, 3)
	fill(t, fh, n)
	checkFill(t, fh, n)
	for i := 0; i < n; i += 2 {
		_, err := fh.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(n/2), fh.Len())
	for i := 0; i < n; i++ {
		v, ok, err := fh.GetInt(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		require.Equal(t, i%2 == 1, ok, "key %d", i)
		if ok {
			require.Equal(t, int64(i*i), v)
		}
	}
	cnt, err := fh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(n/2), cnt)
}

func testChainSymmetry(t *testing.T) {
	t.Parallel()
	const grown, kept = 20_000, 300
	fh := setupMap(t, 2)
	fill(t, fh, grown)
	for i := kept; i < grown; i++ {
		_, err := fh.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
	}
	fresh := setupMap(t, 2)
	fill(t, fresh, kept)

	assert.Equal(t, fresh.Len(), fh.Len())
	for i := 0; i < grown; i++ {
		k := framehash.PlainKey(uint64(i))
		a, err := fh.Get(k)
		require.NoError(t, err)
		b, err := fresh.Get(k)
		require.NoError(t, err)
		require.Equal(t, b.Type(), a.Type(), "key %d", i)
		require.Equal(t, b.Int(), a.Int(), "key %d", i)
	}
	na, err := fh.CountActive()
	require.NoError(t, err)
	nb, err := fresh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, nb, na)
}

func testReadonly(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	fill(t, fh, 100)

	depth, err := fh.SetReadonly()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	depth, err = fh.SetReadonly()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)
	assert.True(t, fh.IsReadonly())

	vt, err := fh.SetInt(framehash.PlainKey(1), 5)
	assert.ErrorIs(t, err, framehash.ErrNoAccess)
	assert.Equal(t, framehash.ValueNoAccess, vt)
	_, err = fh.DelKey(framehash.PlainKey(1))
	assert.ErrorIs(t, err, framehash.ErrNoAccess)
	_, err = fh.IncInt(framehash.PlainKey(1), 1)
	assert.ErrorIs(t, err, framehash.ErrNoAccess)
	assert.ErrorIs(t, fh.Discard(), framehash.ErrNoAccess)
	_, err = fh.Math().Mul(2)
	assert.ErrorIs(t, err, framehash.ErrNoAccess)
	checkFill(t, fh, 100)
	assert.Equal(t, int64(100), fh.Len())

	depth, err = fh.ClearReadonly()
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
	assert.True(t, fh.IsReadonly())
	depth, err = fh.ClearReadonly()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
	depth, err = fh.ClearReadonly()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	_, err = fh.SetInt(framehash.PlainKey(1), 5)
	require.NoError(t, err)
}

func testCacheFlush(t *testing.T) {
	t.Parallel()
	const n = 5_000
	fh := setupMap(t, 3)
	fill(t, fh, n)
	// Warm the caches, then overwrite through them.
	checkFill(t, fh, n)
	for i := 0; i < n; i++ {
		_, err := fh.SetInt(framehash.PlainKey(uint64(i)), int64(-i))
		require.NoError(t, err)
	}
	require.NoError(t, fh.Flush(false))
	for i := 0; i < n; i++ {
		v, ok, err := fh.GetInt(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, int64(-i), v)
	}
	require.NoError(t, fh.Flush(true))
	require.NoError(t, fh.DisableReadCaches())
	assert.False(t, fh.ReadCachesEnabled())
	cnt, err := fh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(n), cnt)
	v, _, err := fh.GetInt(framehash.PlainKey(77))
	require.NoError(t, err)
	assert.Equal(t, int64(-77), v)

	rates := fh.Hitrate()
	for _, r := range rates {
		assert.GreaterOrEqual(t, r.Rate, 0.0)
		assert.LessOrEqual(t, r.Rate, 1.0)
	}
}

func testWriteCacheToggle(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	assert.True(t, fh.WriteCachesEnabled())
	fill(t, fh, 1000)
	checkFill(t, fh, 1000)

	require.NoError(t, fh.DisableWriteCaches())
	assert.False(t, fh.WriteCachesEnabled())
	for i := 0; i < 1000; i++ {
		_, err := fh.SetInt(framehash.PlainKey(uint64(i)), int64(i*i))
		require.NoError(t, err)
	}
	for i := 0; i < 1000; i += 3 {
		_, err := fh.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
	}
	cnt, err := fh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, fh.Len(), cnt)

	fh.EnableWriteCaches()
	assert.True(t, fh.WriteCachesEnabled())

	uncached := setupMap(t, -1)
	uncached.EnableWriteCaches()
	assert.False(t, uncached.WriteCachesEnabled())
	assert.False(t, uncached.ReadCachesEnabled())
}

func testCompactify(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 1)
	fill(t, fh, 5_000)
	for i := 10; i < 5_000; i++ {
		_, err := fh.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
	}
	before := fh.Dynamic().BytesInUse()
	_, err := fh.Compactify()
	require.NoError(t, err)
	assert.LessOrEqual(t, fh.Dynamic().BytesInUse(), before)
	checkFill(t, fh, 10)
	assert.Equal(t, int64(10), fh.Len())

	_, err = fh.CompactifyPartial(framehash.NewObjectID().H)
	require.NoError(t, err)
	checkFill(t, fh, 10)
}

func testDiscard(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	empty := fh.Dynamic().BytesInUse()
	fill(t, fh, 3_000)
	require.NoError(t, fh.Discard())
	assert.Equal(t, int64(0), fh.Len())
	assert.Equal(t, empty, fh.Dynamic().BytesInUse())
	fill(t, fh, 10)
	checkFill(t, fh, 10)
}

func testIteration(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	fill(t, fh, 500)

	items, err := fh.Items()
	require.NoError(t, err)
	require.Len(t, items, 500)
	seen := map[uint64]int64{}
	for _, it := range items {
		seen[it.Key.Uint64()] = it.Value.Int()
	}
	for i := 0; i < 500; i++ {
		assert.Equal(t, int64(i*i), seen[uint64(i)])
	}
	keys, err := fh.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 500)
	values, err := fh.Values()
	require.NoError(t, err)
	assert.Len(t, values, 500)

	// Delete odd values in place.
	p := framehash.NewProcessor(func(p *framehash.Processor, c *framehash.Cell) int64 {
		if c.Value().Int()%2 == 1 {
			if err := p.Delete(c); err != nil {
				return -1
			}
		}
		return 1
	})
	p.Readonly = false
	_, err = fh.Process(p)
	require.NoError(t, err)
	assert.Equal(t, int64(250), fh.Len())
	cnt, err := fh.CountActive()
	require.NoError(t, err)
	assert.Equal(t, int64(250), cnt)

	// A limited walk stops early.
	p = framehash.NewProcessor(framehash.CountActive)
	p.Limit = 10
	n, err := fh.Process(p)
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)
}

func testConcurrent(t *testing.T) {
	t.Parallel()
	const workers, per = 8, 5_000
	fh := setupMap(t, 2)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				k := framehash.PlainKey(uint64(base + i))
				if _, err := fh.SetInt(k, int64(base+i)); err != nil {
					t.Error(err)
					return
				}
				if i%4 == 0 {
					if _, err := fh.DelKey(k); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}(w * per)
	}
	wg.Wait()
	assert.Equal(t, int64(workers*per*3/4), fh.Len())
	for i := 0; i < workers*per; i++ {
		v, ok, err := fh.GetInt(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
		require.Equal(t, i%per%4 != 0, ok, "key %d", i)
		if ok {
			require.Equal(t, int64(i), v)
		}
	}
}

func testSharedAllocators(t *testing.T) {
	t.Parallel()
	dyn := framehash.NewDynamic(0, nil)
	opts := framehash.DefaultOptions()
	opts.Allocators = framehash.SharedAllocators(dyn)
	a, err := framehash.New(opts)
	require.NoError(t, err)
	b, err := framehash.New(opts)
	require.NoError(t, err)
	base := dyn.BytesInUse()
	fill(t, a, 1_000)
	fill(t, b, 1_000)
	assert.Greater(t, dyn.BytesInUse(), base)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, int64(0), dyn.BytesInUse())
	assert.Equal(t, 0, dyn.Check())

	limited := framehash.DefaultOptions()
	limited.Allocators = framehash.OwnedAllocators(1 << 16)
	fh, err := framehash.New(limited)
	require.NoError(t, err)
	var failed error
	for i := 0; i < 100_000 && failed == nil; i++ {
		_, failed = fh.SetInt(framehash.PlainKey(uint64(i)), 1)
	}
	assert.Error(t, failed)
	assert.Equal(t, 0, fh.CheckAllocators())
}

func testSharedReadonly(t *testing.T) {
	t.Parallel()
	dyn := framehash.NewDynamic(0, nil)
	opts := framehash.DefaultOptions()
	opts.Allocators = framehash.SharedAllocators(dyn)
	a, err := framehash.New(opts)
	require.NoError(t, err)
	b, err := framehash.New(opts)
	require.NoError(t, err)
	fill(t, a, 100)
	fill(t, b, 100)

	_, err = a.SetReadonly()
	require.NoError(t, err)
	_, err = b.SetReadonly()
	require.NoError(t, err)
	_, err = a.ClearReadonly()
	require.NoError(t, err)
	for _, st := range dyn.Stats() {
		assert.True(t, st.Readonly, st.Name)
	}
	_, err = b.ClearReadonly()
	require.NoError(t, err)
	for _, st := range dyn.Stats() {
		assert.False(t, st.Readonly, st.Name)
	}

	fill(t, a, 2_000)
	fill(t, b, 2_000)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, int64(0), dyn.BytesInUse())
	assert.Equal(t, 0, dyn.Check())
}

func testDiscardSharedReadonly(t *testing.T) {
	t.Parallel()
	dyn := framehash.NewDynamic(0, nil)
	opts := framehash.DefaultOptions()
	opts.Allocators = framehash.SharedAllocators(dyn)
	a, err := framehash.New(opts)
	require.NoError(t, err)
	b, err := framehash.New(opts)
	require.NoError(t, err)
	fill(t, a, 5_000)
	fill(t, b, 10)
	require.NoError(t, a.Flush(false))

	_, err = b.SetReadonly()
	require.NoError(t, err)
	inUse := dyn.BytesInUse()
	for i := 0; i < 5_000; i++ {
		_, err := a.DelKey(framehash.PlainKey(uint64(i)))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), a.Len())
	assert.Equal(t, inUse, dyn.BytesInUse())
	assert.Equal(t, 0, dyn.Check())
	assert.ErrorIs(t, a.Discard(), framehash.ErrNoAccess)
	assert.ErrorIs(t, a.Close(), framehash.ErrNoAccess)

	_, err = b.ClearReadonly()
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, int64(0), dyn.BytesInUse())
	assert.Equal(t, 0, dyn.Check())
}

func testDestroyObjects(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	fill(t, fh, 100)
	owned := newTestObject()
	_, err := fh.SetObject128(owned)
	require.NoError(t, err)

	p := framehash.NewProcessor(framehash.DestroyObjects)
	_, err = fh.Process(p)
	assert.ErrorIs(t, err, framehash.ErrNoAccess)
	assert.ErrorIs(t, err, framehash.ErrAborted)
	assert.Equal(t, 0, owned.destroyed)

	p.Readonly = false
	_, err = fh.Process(p)
	require.NoError(t, err)
	assert.Equal(t, 1, owned.destroyed)
	v, err := fh.Get(framehash.IDKey(owned.id))
	require.NoError(t, err)
	assert.Equal(t, framehash.ValueMember, v.Type())
	checkFill(t, fh, 100)
}

func testInfo(t *testing.T) {
	t.Parallel()
	fh := setupMap(t, 2)
	fill(t, fh, 100)
	checkFill(t, fh, 100)
	info := fh.Info()
	assert.Equal(t, fh.ID().String(), info.ID)
	assert.Equal(t, 2, info.CacheDepth)
	assert.True(t, info.Synchronized)
	assert.Equal(t, int64(100), info.Counters.Items)
	assert.Equal(t, int64(100), info.Counters.Operations)
	assert.Equal(t, int64(100), info.Counters.Reads)
	assert.GreaterOrEqual(t, info.Frames["cache"], 1)
	assert.Positive(t, info.Counters.BytesInUse)
}
