package concurrency

import (
	"fmt"
	"sync"
)

// SubtreeGuard serializes access to the top-level subtrees of a structure.
// Each slot has a busy flag and a condition variable sharing one mutex.
type SubtreeGuard struct {
	mtx   sync.Mutex
	busy  []bool
	conds []*sync.Cond
}

// NewSubtreeGuard returns a guard for nslots subtrees.
func NewSubtreeGuard(nslots int) *SubtreeGuard {
	g := &SubtreeGuard{
		busy:  make([]bool, nslots),
		conds: make([]*sync.Cond, nslots),
	}
	for i := range g.conds {
		g.conds[i] = sync.NewCond(&g.mtx)
	}
	return g
}

// Slots returns the number of subtrees guarded.
func (g *SubtreeGuard) Slots() int {
	return len(g.busy)
}

func (g *SubtreeGuard) check(slot int) {
	if slot < 0 || slot >= len(g.busy) {
		panic(fmt.Sprintf("concurrency: subtree slot %d out of range [0,%d)", slot, len(g.busy)))
	}
}

// Acquire blocks until the subtree is free, then claims it.
func (g *SubtreeGuard) Acquire(slot int) {
	g.check(slot)
	g.mtx.Lock()
	for g.busy[slot] {
		g.conds[slot].Wait()
	}
	g.busy[slot] = true
	g.mtx.Unlock()
}

// TryAcquire claims the subtree if it is free and reports whether it did.
func (g *SubtreeGuard) TryAcquire(slot int) bool {
	g.check(slot)
	g.mtx.Lock()
	defer g.mtx.Unlock()
	if g.busy[slot] {
		return false
	}
	g.busy[slot] = true
	return true
}

// Release frees a subtree claimed by Acquire.
func (g *SubtreeGuard) Release(slot int) {
	g.check(slot)
	g.mtx.Lock()
	if !g.busy[slot] {
		g.mtx.Unlock()
		panic(fmt.Sprintf("concurrency: release of free subtree slot %d", slot))
	}
	g.busy[slot] = false
	g.mtx.Unlock()
	g.conds[slot].Broadcast()
}

// AcquireAll claims every subtree in index order.
// The caller must not hold any subtree.
func (g *SubtreeGuard) AcquireAll() {
	for slot := range g.busy {
		g.Acquire(slot)
	}
}

// ReleaseAll releases every subtree.
func (g *SubtreeGuard) ReleaseAll() {
	for slot := range g.busy {
		g.Release(slot)
	}
}

// Busy reports whether the subtree is currently claimed.
func (g *SubtreeGuard) Busy(slot int) bool {
	g.check(slot)
	g.mtx.Lock()
	defer g.mtx.Unlock()
	return g.busy[slot]
}
