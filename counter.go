// counter.go: a striped, auto-growing counter (a "CAT chain" in Cliff
// Click's terminology: an ordered chain of power-of-two Cell Array
// Tables). Grounded on spec.md §4.4.
//
// Go has no portable thread-id to hash on, so cell affinity is derived
// from the address of a stack-local variable run through a Wang mixer —
// stable for the lifetime of one goroutine's call stack depth, which is
// all the spreading this needs (see SPEC_FULL.md §4.5).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"math"
	"sync/atomic"
	"unsafe"
)

const (
	maxCounterSpin = 2 // spec.md §4.4: MAX_SPIN
	maxResizers    = 4 // small cap on simultaneous CAT allocation
)

// counterSumInvalid is the cached-sum sentinel (spec.md §9's INT_MIN
// open question): any cachedSum holding this value must be recomputed.
// Counter values themselves are unrestricted int64s; only the cache slot
// reserves this pattern.
const counterSumInvalid = math.MinInt64

type catCell struct {
	value atomic.Int64
	_     [7]int64 // pad to a cache line so sibling cells don't false-share
}

// catLevel is one cell-array table in the chain.
type catLevel struct {
	cells     []catCell
	prev      *catLevel // predecessor CAT; immutable once constructed
	resizers  atomic.Int32
	cachedSum atomic.Int64
	fuzzySum  atomic.Int64
	fuzzyAt   atomic.Int64
}

func newCatLevel(n int) *catLevel {
	nl := &catLevel{cells: make([]catCell, n)}
	nl.cachedSum.Store(counterSumInvalid)
	nl.fuzzySum.Store(counterSumInvalid)
	return nl
}

func (l *catLevel) ownSum() int64 {
	if cached := l.cachedSum.Load(); cached != counterSumInvalid {
		return cached
	}
	var sum int64
	for i := range l.cells {
		sum += l.cells[i].value.Load()
	}
	l.cachedSum.Store(sum)
	return sum
}

func cellAffinity() uint64 {
	var probe byte
	return wangMix64(uint64(uintptr(unsafe.Pointer(&probe))))
}

// Counter is a lock-free, auto-resizing integer counter striped across a
// chain of cell arrays to reduce CAS contention under high fan-in.
type Counter struct {
	domain *Domain
	head   atomic.Pointer[catLevel]
}

// NewCounter creates a Counter backed by domain, initialized to zero.
func NewCounter(domain *Domain) *Counter {
	c := &Counter{domain: domain}
	c.head.Store(newCatLevel(1))
	return c
}

// Add adds delta to the counter.
func (c *Counter) Add(delta int64) {
	for {
		head := c.head.Load()
		idx := cellAffinity() & uint64(len(head.cells)-1)
		cell := &head.cells[idx]

		succeeded := false
		for spin := 0; spin < maxCounterSpin; spin++ {
			old := cell.value.Load()
			if cell.value.CompareAndSwap(old, old+delta) {
				succeeded = true
				break
			}
		}
		if succeeded {
			head.cachedSum.Store(counterSumInvalid)
			return
		}
		if len(head.cells) < maxCounterCells {
			c.growFrom(head)
		}
		// Either a bigger level is now installed, or we're at the
		// capacity cap and simply reprobe the same (shared) cell.
	}
}

// Increment adds 1 to the counter.
func (c *Counter) Increment() { c.Add(1) }

// Decrement subtracts 1 from the counter.
func (c *Counter) Decrement() { c.Add(-1) }

// AddIfMask adds delta only if the current affinity cell's value ANDed
// with mask is zero, reporting whether the conditional add took effect.
// This is the primitive spec.md §4.4 describes as usable both for plain
// adds and for reader/writer-lock-style constructs; unlike Add it makes
// a single attempt and never triggers a resize.
func (c *Counter) AddIfMask(mask, delta int64) bool {
	head := c.head.Load()
	idx := cellAffinity() & uint64(len(head.cells)-1)
	cell := &head.cells[idx]

	old := cell.value.Load()
	if old&mask != 0 {
		return false
	}
	if cell.value.CompareAndSwap(old, old+delta) {
		head.cachedSum.Store(counterSumInvalid)
		return true
	}
	return false
}

func (c *Counter) growFrom(old *catLevel) {
	if old.resizers.Add(1) > maxResizers {
		old.resizers.Add(-1)
		return
	}
	defer old.resizers.Add(-1)

	if c.head.Load() != old {
		return // another thread already grew past this snapshot
	}

	newLen := len(old.cells) * 2
	if newLen > maxCounterCells {
		newLen = maxCounterCells
	}
	nl := newCatLevel(newLen)
	nl.prev = old

	if c.head.CompareAndSwap(old, nl) {
		c.domain.config.MetricsCollector.RecordCounterGrow(len(old.cells), newLen)
	}
	// A losing nl is simply discarded; it was never published anywhere.
}

// Get returns the exact sum of every cell in the chain. It walks the
// chain under a ping-ponged hazard pair so a concurrent Set cannot
// retire a node out from under the walk.
func (c *Counter) Get() int64 {
	tr := c.domain.Checkout()
	defer c.domain.Checkin(tr)
	hz := tr.Hazards()

	slot := 0
	cur := StableRead(hz, slot, &c.head)

	var total int64
	for cur != nil {
		total += cur.ownSum()
		next := cur.prev
		if next == nil {
			break
		}
		nextSlot := 1 - slot
		hz.Publish(nextSlot, unsafe.Pointer(next))
		hz.Clear(slot)
		slot = nextSlot
		cur = next
	}
	return total
}

// EstimateGet returns a cheap, possibly-stale sum. For small chains (<=64
// cells in the head level) or when the coarse clock has not advanced
// since the last refresh, it returns a memoized value instead of walking
// the whole chain.
func (c *Counter) EstimateGet() int64 {
	head := c.head.Load()
	now := c.domain.config.TimeProvider.Now()

	if len(head.cells) <= 64 || head.fuzzyAt.Load() == now {
		if cached := head.fuzzySum.Load(); cached != counterSumInvalid {
			return cached
		}
	}

	sum := c.Get()
	head.fuzzySum.Store(sum)
	head.fuzzyAt.Store(now)
	return sum
}

// Set replaces the counter's value with x, installing a fresh
// single-cell head and retiring the previous chain through SMR.
func (c *Counter) Set(x int64) {
	nl := newCatLevel(1)
	nl.cells[0].value.Store(x)
	nl.cachedSum.Store(x)

	old := c.head.Swap(nl)
	if old == nil {
		return
	}

	tr := c.domain.Checkout()
	defer c.domain.Checkin(tr)
	for n := old; n != nil; {
		next := n.prev
		captured := n
		tr.Retire(unsafe.Pointer(captured), "counter-cells", func() {})
		n = next
	}
}
