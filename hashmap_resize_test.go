// hashmap_resize_test.go: tests covering Map's cooperative incremental
// resize path.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"strconv"
	"sync"
	"testing"
)

func TestMap_ResizeGrowsTableAndPreservesEntries(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	const n = 5000
	for i := 0; i < n; i++ {
		m.Put(strconv.Itoa(i), i)
	}

	if m.Size() != n {
		t.Fatalf("expected size %d, got %d", n, m.Size())
	}

	table := m.table.Load()
	if len(table.slots) <= minTableCapacity {
		t.Fatalf("expected the table to have grown past minTableCapacity, has %d slots", len(table.slots))
	}

	for i := 0; i < n; i++ {
		v, ok := m.Get(strconv.Itoa(i))
		if !ok || v != i {
			t.Fatalf("expected Get(%d)=%d, got %d (ok=%v)", i, i, v, ok)
		}
	}
}

func TestMap_ResizeUnderConcurrentWriters(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	const goroutines = 32
	const perGoroutine = 500

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				key := strconv.Itoa(g*perGoroutine + i)
				m.Put(key, g*perGoroutine+i)
			}
		}(g)
	}
	wg.Wait()

	want := goroutines * perGoroutine
	if m.Size() != want {
		t.Fatalf("expected size %d, got %d", want, m.Size())
	}

	for g := 0; g < goroutines; g++ {
		for i := 0; i < perGoroutine; i++ {
			key := strconv.Itoa(g*perGoroutine + i)
			v, ok := m.Get(key)
			if !ok || v != g*perGoroutine+i {
				t.Fatalf("lost entry %s during concurrent resize: got %d (ok=%v)", key, v, ok)
			}
		}
	}
}

func TestMap_ResizeReclaimsOldTableThroughSMR(t *testing.T) {
	dom := NewDomain(Config{RetireScanMultiple: 0})
	m := newTestMap[int](dom)

	const n = 2000
	for i := 0; i < n; i++ {
		m.Put(strconv.Itoa(i), i)
	}

	dom.Scan(dom.Checkout())

	for i := 0; i < n; i++ {
		v, ok := m.Get(strconv.Itoa(i))
		if !ok || v != i {
			t.Fatalf("expected Get(%d)=%d after reclamation pass, got %d (ok=%v)", i, i, v, ok)
		}
	}
}

func TestMap_DenseDeletesThenInserts(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	const n = 1000
	for i := 0; i < n; i++ {
		m.Put(strconv.Itoa(i), i)
	}
	for i := 0; i < n; i++ {
		m.Remove(strconv.Itoa(i))
	}
	if m.Size() != 0 {
		t.Fatalf("expected empty map after removing everything, got size %d", m.Size())
	}

	for i := 0; i < n; i++ {
		m.Put(strconv.Itoa(i+n), i)
	}
	if m.Size() != n {
		t.Fatalf("expected size %d after reinsertion, got %d", n, m.Size())
	}
}
