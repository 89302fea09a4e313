// race_test.go: scenario and invariant tests from spec.md §8, scaled down
// from the spec's raw counts to keep -race runs tractable.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
)

// TestScenario_S1_SingleThreadLifecycle mirrors spec.md §8 S1.
func TestScenario_S1_SingleThreadLifecycle(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[string](dom).WithValueEqual(func(a, b string) bool { return a == b })

	m.Put("foo", "bar")
	if v, ok := m.Get("foo"); !ok || v != "bar" {
		t.Fatalf("expected bar, got %q (ok=%v)", v, ok)
	}

	ok, err := m.ReplaceValue("foo", "bar", "baz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected replace(foo, bar, baz) to succeed")
	}
	if v, ok := m.Get("foo"); !ok || v != "baz" {
		t.Fatalf("expected baz, got %q (ok=%v)", v, ok)
	}

	prev, removed := m.Remove("foo")
	if !removed || prev != "baz" {
		t.Fatalf("expected remove to return baz, got %q (removed=%v)", prev, removed)
	}
	if _, ok := m.Get("foo"); ok {
		t.Fatal("expected foo to be absent after remove")
	}
}

// TestScenario_S2_PutIfAbsentTwice mirrors spec.md §8 S2.
func TestScenario_S2_PutIfAbsentTwice(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[string](dom)

	actual, loaded := m.PutIfAbsent("foo", "bar")
	if loaded || actual != "bar" {
		t.Fatalf("expected the first call to insert, got actual=%q loaded=%v", actual, loaded)
	}

	actual, loaded = m.PutIfAbsent("foo", "quux")
	if !loaded || actual != "bar" {
		t.Fatalf("expected the second call to report bar unchanged, got actual=%q loaded=%v", actual, loaded)
	}
	if v, _ := m.Get("foo"); v != "bar" {
		t.Fatalf("expected the map to remain unchanged, got %q", v)
	}
}

// TestScenario_S3_InsertSixtyFourKeys mirrors spec.md §8 S3.
func TestScenario_S3_InsertSixtyFourKeys(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	for i := 0; i < 64; i++ {
		key := fmt.Sprintf("k-%02x", i)
		m.Put(key, i)
	}

	if m.Size() != 64 {
		t.Fatalf("expected size 64, got %d", m.Size())
	}
	for i := 0; i < 64; i++ {
		key := fmt.Sprintf("k-%02x", i)
		v, ok := m.Get(key)
		if !ok || v != i {
			t.Fatalf("expected %s=%d, got %d (ok=%v)", key, i, v, ok)
		}
	}
}

// TestScenario_S4_InsertThenDeleteInterleaved mirrors spec.md §8 S4.
func TestScenario_S4_InsertThenDeleteInterleaved(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	keys := make([]string, 64)
	for i := range keys {
		keys[i] = fmt.Sprintf("k-%02x", i)
	}
	for i, k := range keys {
		m.Put(k, i)
	}

	// Delete in a different order than insertion to exercise interleaving.
	order := []int{63, 1, 62, 2, 61, 3}
	remaining := map[string]bool{}
	for _, k := range keys {
		remaining[k] = true
	}
	for _, idx := range order {
		m.Remove(keys[idx])
		delete(remaining, keys[idx])
	}
	for k := range remaining {
		m.Remove(k)
	}

	if m.Size() != 0 {
		t.Fatalf("expected size 0 after deleting all keys, got %d", m.Size())
	}
	for _, k := range keys {
		if _, ok := m.Get(k); ok {
			t.Fatalf("expected %s to be absent", k)
		}
	}
}

// TestScenario_S5_CounterConservation mirrors spec.md §8 S5 and invariant
// 1, at a scale that keeps -race runs reasonable.
func TestScenario_S5_CounterConservation(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	c := NewCounter(dom)

	const threads = 2
	const incrementsPerThread = 200_000

	var wg sync.WaitGroup
	wg.Add(threads)
	for i := 0; i < threads; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < incrementsPerThread; j++ {
				c.Increment()
			}
		}()
	}
	wg.Wait()

	want := int64(threads * incrementsPerThread)
	if got := c.Get(); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

// TestScenario_S6_MixedWorkloadConsistency mirrors spec.md §8 S6 and
// invariant 2 (size consistency), scaled to a fixed operation count
// instead of a wall-clock duration.
func TestScenario_S6_MixedWorkloadConsistency(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	const workers = 8
	const opsPerWorker = 5000
	const keyUniverse = 1000 // scaled down from the spec's 10,000

	var puts, removes int64

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(seed int) {
			defer wg.Done()
			state := uint64(seed*2654435761 + 1)
			for i := 0; i < opsPerWorker; i++ {
				state = xorshift64(state)
				key := strconv.FormatUint(state%keyUniverse, 10)
				switch state % 4 {
				case 0:
					if _, had := m.Put(key, int(state)); !had {
						atomic.AddInt64(&puts, 1)
					}
				case 1:
					if _, removed := m.Remove(key); removed {
						atomic.AddInt64(&removes, 1)
					}
				default:
					m.Get(key)
				}
			}
		}(w + 1)
	}
	wg.Wait()

	want := puts - removes
	if int64(m.Size()) != want {
		t.Fatalf("expected size %d (puts=%d removes=%d), got %d", want, puts, removes, m.Size())
	}
}

// TestInvariant_NoKeyDuplication exercises invariant 3: concurrent inserts
// of the same key must never leave two live slots for it.
func TestInvariant_NoKeyDuplication(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	m := newTestMap[int](dom)

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			m.Put("shared", i)
		}(i)
	}
	wg.Wait()

	if m.Size() != 1 {
		t.Fatalf("expected exactly one live slot for a repeatedly-written key, got size %d", m.Size())
	}
}

// TestInvariant_HazardPointerSafety exercises invariant 7 indirectly: a
// reader holding a hazard on a list node must still see consistent data
// while a writer concurrently erases neighboring nodes.
func TestInvariant_HazardPointerSafety(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	l := NewList[int, int](dom, intLess, nil)

	const n = 300
	for i := 0; i < n; i++ {
		l.Insert(i, i*i)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i += 2 {
			l.Erase(i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 1; i < n; i += 2 {
			if v, ok := l.Find(i); ok && v != i*i {
				t.Errorf("corrupted read for key %d: got %d, want %d", i, v, i*i)
			}
		}
	}()
	wg.Wait()
}
