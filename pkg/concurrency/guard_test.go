package concurrency_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"framehash/pkg/concurrency"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubtreeGuard(t *testing.T) {
	t.Run("AcquireRelease", testAcquireRelease)
	t.Run("MutualExclusion", testMutualExclusion)
	t.Run("AcquireAllBlocks", testAcquireAllBlocks)
	t.Run("ReleaseFreePanics", testReleaseFreePanics)
	t.Run("OutOfRangePanics", testOutOfRangePanics)
}

func testAcquireRelease(t *testing.T) {
	t.Parallel()
	g := concurrency.NewSubtreeGuard(4)
	require.Equal(t, 4, g.Slots())
	g.Acquire(2)
	assert.True(t, g.Busy(2))
	assert.False(t, g.TryAcquire(2))
	assert.True(t, g.TryAcquire(1))
	g.Release(1)
	g.Release(2)
	assert.False(t, g.Busy(2))
}

func testMutualExclusion(t *testing.T) {
	t.Parallel()
	g := concurrency.NewSubtreeGuard(2)
	var inside atomic.Int32
	var violations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				g.Acquire(0)
				if inside.Add(1) != 1 {
					violations.Add(1)
				}
				inside.Add(-1)
				g.Release(0)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(0), violations.Load())
}

func testAcquireAllBlocks(t *testing.T) {
	t.Parallel()
	g := concurrency.NewSubtreeGuard(8)
	g.Acquire(5)
	done := make(chan struct{})
	go func() {
		g.AcquireAll()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("AcquireAll returned while a subtree was held")
	case <-time.After(20 * time.Millisecond):
	}
	g.Release(5)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("AcquireAll did not return after release")
	}
	for i := 0; i < 8; i++ {
		assert.True(t, g.Busy(i))
	}
	g.ReleaseAll()
	assert.False(t, g.Busy(0))
}

func testReleaseFreePanics(t *testing.T) {
	t.Parallel()
	g := concurrency.NewSubtreeGuard(1)
	assert.Panics(t, func() { g.Release(0) })
}

func testOutOfRangePanics(t *testing.T) {
	t.Parallel()
	g := concurrency.NewSubtreeGuard(1)
	assert.Panics(t, func() { g.Acquire(1) })
}
