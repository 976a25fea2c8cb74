package allocator_test

import (
	"sync"
	"testing"

	"framehash/pkg/allocator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type line struct {
	cells []uint64
}

// setupAllocator returns an allocator of lines holding 1<<class words.
func setupAllocator(t *testing.T, limit int64) *allocator.Allocator[line] {
	t.Parallel()
	return allocator.New(allocator.Config[line]{
		Name: "test",
		New: func(class int) *line {
			return &line{cells: make([]uint64, 1<<class)}
		},
		Reset: func(l *line, class int) {
			clear(l.cells)
		},
		SizeOf: func(class int) int64 {
			return 8 << class
		},
		Limit: limit,
	})
}

func TestAllocator(t *testing.T) {
	t.Run("AllocateFree", testAllocateFree)
	t.Run("Recycle", testRecycle)
	t.Run("Limit", testLimit)
	t.Run("Readonly", testReadonly)
	t.Run("FreeUnknown", testFreeUnknown)
	t.Run("BlocksInUse", testBlocksInUse)
	t.Run("Concurrent", testConcurrent)
}

func testAllocateFree(t *testing.T) {
	a := setupAllocator(t, 0)
	l, err := a.Allocate(3)
	require.NoError(t, err)
	require.Len(t, l.cells, 8)
	assert.Equal(t, int64(64), a.BytesInUse())
	assert.Equal(t, 1, a.Lines())
	assert.True(t, a.Owns(l))
	require.NoError(t, a.Free(l))
	assert.Equal(t, int64(0), a.BytesInUse())
	assert.Equal(t, 0, a.Lines())
	assert.False(t, a.Owns(l))
	assert.Equal(t, 0, a.Check())
}

func testRecycle(t *testing.T) {
	a := setupAllocator(t, 0)
	l, err := a.Allocate(2)
	require.NoError(t, err)
	l.cells[0] = 42
	require.NoError(t, a.Free(l))
	l2, err := a.Allocate(2)
	require.NoError(t, err)
	assert.Same(t, l, l2)
	assert.Equal(t, uint64(0), l2.cells[0])
	stats := a.Stats()
	assert.Equal(t, int64(2), stats.Allocs)
	assert.Equal(t, int64(1), stats.Frees)
	assert.Equal(t, 0, stats.FreeLines)
	assert.Equal(t, 0, a.Check())
}

func testLimit(t *testing.T) {
	a := setupAllocator(t, 100)
	l, err := a.Allocate(3)
	require.NoError(t, err)
	_, err = a.Allocate(3)
	require.ErrorIs(t, err, allocator.ErrOutOfMemory)
	require.NoError(t, a.Free(l))
	_, err = a.Allocate(3)
	require.NoError(t, err)
}

func testReadonly(t *testing.T) {
	a := setupAllocator(t, 0)
	l, err := a.Allocate(1)
	require.NoError(t, err)
	require.NoError(t, a.SetReadonly())
	require.NoError(t, a.SetReadonly())
	assert.True(t, a.IsReadonly())
	_, err = a.Allocate(1)
	require.ErrorIs(t, err, allocator.ErrReadonly)
	require.ErrorIs(t, a.Free(l), allocator.ErrReadonly)
	require.NoError(t, a.ClearReadonly())
	assert.True(t, a.IsReadonly())
	require.ErrorIs(t, a.Free(l), allocator.ErrReadonly)
	require.NoError(t, a.ClearReadonly())
	assert.False(t, a.IsReadonly())
	require.ErrorIs(t, a.ClearReadonly(), allocator.ErrNotReadonly)
	require.NoError(t, a.Free(l))
}

func testFreeUnknown(t *testing.T) {
	a := setupAllocator(t, 0)
	require.ErrorIs(t, a.Free(&line{}), allocator.ErrUnknownLine)
	l, err := a.Allocate(0)
	require.NoError(t, err)
	require.NoError(t, a.Free(l))
	require.ErrorIs(t, a.Free(l), allocator.ErrUnknownLine)
}

func testBlocksInUse(t *testing.T) {
	a := setupAllocator(t, 0)
	assert.Equal(t, int64(0), a.BlocksInUse())
	_, err := a.Allocate(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.BlocksInUse())
}

func testConcurrent(t *testing.T) {
	a := setupAllocator(t, 0)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(class int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				l, err := a.Allocate(class)
				if err != nil {
					t.Error(err)
					return
				}
				if err := a.Free(l); err != nil {
					t.Error(err)
					return
				}
			}
		}(i % 4)
	}
	wg.Wait()
	assert.Equal(t, int64(0), a.BytesInUse())
	assert.Equal(t, 0, a.Check())
}
