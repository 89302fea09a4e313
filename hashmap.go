// hashmap.go: a Cliff Click-style non-blocking hash map with cooperative
// incremental resize, built on the shared SMR domain.
//
// Grounded on spec.md §4.6. The original's three-low-bit return-pointer
// ownership encoding and the PRIME/TOMBSTONE pointer tag bits have no
// honest Go equivalent (Go pointers can't carry tag bits, and the
// garbage collector already owns exactly-once memory reclamation); both
// are replaced by small immutable wrapper structs — slotKey/slotValue —
// carrying an explicit kind enum, compared by pointer identity exactly
// the way the original compares tagged words. See SPEC_FULL.md §4 for
// the full rationale.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

const maxMapResizers = 4

// HashFunc computes a hash for a key of type K. See StringHash for a
// ready-made implementation over strings.
type HashFunc[K any] func(K) uint64

// EqualFunc reports whether a and b should be treated as the same key or
// value.
type EqualFunc[T any] func(a, b T) bool

type keyKind uint8

const (
	keyReal keyKind = iota
	keyTombstone
)

type slotKey[K any] struct {
	kind keyKind
	real K
}

type valueKind uint8

const (
	valueReal valueKind = iota
	valueTombstone
)

type slotValue[V any] struct {
	kind  valueKind
	real  V
	prime bool
}

type mapSlot[K any, V any] struct {
	hash  atomic.Uint64 // memoized fullhash; 0 means "not yet memoized"
	key   atomic.Pointer[slotKey[K]]
	value atomic.Pointer[slotValue[V]]
}

// chm is the per-table control block ("CHM" in spec.md §4.6: Concurrent
// Hash Map state), tracking resize coordination and live counts.
type chm[K any, V any] struct {
	newTable  atomic.Pointer[kvTable[K, V]]
	slots     atomic.Int64 // key-occupied slot count, for the resize heuristic
	size      atomic.Int64 // live (valueReal) entry count
	deadKeys  atomic.Int64 // tombstoned-value slots, for the cooldown heuristic
	resizers  atomic.Int32
	copyIdx   atomic.Int64
	copyDone  atomic.Int64
	resizedAt atomic.Int64
}

type kvTable[K any, V any] struct {
	slots []mapSlot[K, V]
	chm   *chm[K, V]
}

type matchKind uint8

const (
	matchAny matchKind = iota
	matchAbsent
	matchPresent
	matchValue
)

type expectation[V any] struct {
	kind  matchKind
	value V
}

type probeOutcome int

const (
	probeFoundKey probeOutcome = iota
	probeEmptySlot
	probeNeedsResize
)

// Map is a lock-free, resizable open-addressed hash map.
type Map[K any, V any] struct {
	domain  *Domain
	hashFn  HashFunc[K]
	keyEqFn EqualFunc[K]
	valEqFn EqualFunc[V]

	onRemove func(key K, value V)

	table          atomic.Pointer[kvTable[K, V]]
	reprobeCounter atomic.Pointer[Counter]

	tombstoneKey *slotKey[K]
	tombstoneVal *slotValue[V]
	tombPrimeVal *slotValue[V]
}

// NewMap creates an empty Map backed by domain. hashFn and keyEqual are
// required. Use WithValueEqual before calling ReplaceValue or
// RemoveValue, and WithOnRemove to observe evictions.
func NewMap[K any, V any](domain *Domain, hashFn HashFunc[K], keyEqual EqualFunc[K]) *Map[K, V] {
	m := &Map[K, V]{
		domain:       domain,
		hashFn:       hashFn,
		keyEqFn:      keyEqual,
		tombstoneKey: &slotKey[K]{kind: keyTombstone},
		tombstoneVal: &slotValue[V]{kind: valueTombstone},
	}
	m.tombPrimeVal = &slotValue[V]{kind: valueTombstone, prime: true}
	m.reprobeCounter.Store(NewCounter(domain))

	fresh := &kvTable[K, V]{slots: make([]mapSlot[K, V], minTableCapacity), chm: &chm[K, V]{}}
	fresh.chm.resizedAt.Store(domain.config.TimeProvider.Now())
	m.table.Store(fresh)
	return m
}

// WithValueEqual sets the equality function ReplaceValue and RemoveValue
// use to compare against a caller-supplied expected value.
func (m *Map[K, V]) WithValueEqual(eq EqualFunc[V]) *Map[K, V] {
	m.valEqFn = eq
	return m
}

// WithOnRemove sets a callback fired exactly once for every entry the
// map removes: a successful Remove/RemoveValue, or one swept up by Clear.
// A value overwritten by Put, Replace or ReplaceValue does not fire it.
// See spec.md §8's finalizer-exactness invariant.
func (m *Map[K, V]) WithOnRemove(fn func(key K, value V)) *Map[K, V] {
	m.onRemove = fn
	return m
}

func (m *Map[K, V]) fullHash(key K) uint64 {
	h := spreadHash(m.hashFn(key))
	if h == 0 {
		h = 1
	}
	return h
}

func (m *Map[K, V]) unwrap(sv *slotValue[V]) (V, bool) {
	if sv == nil || sv.kind != valueReal {
		var zero V
		return zero, false
	}
	return sv.real, true
}

func (m *Map[K, V]) loadTable(hz *HazardHandle, slot int) *kvTable[K, V] {
	return StableRead(hz, slot, &m.table)
}

// probe locates key's slot in table, or the first empty slot it would
// occupy, starting from fullhash's home index. It reprobes linearly,
// skipping tombstoned keys, and reports probeNeedsResize once the
// reprobe count reaches spec.md's REPROBE_LIMIT + len/4 threshold.
func (m *Map[K, V]) probe(hz *HazardHandle, table *kvTable[K, V], key K, fullhash uint64) (slot *mapSlot[K, V], curKey *slotKey[K], idx int, outcome probeOutcome) {
	length := len(table.slots)
	idx = int(fullhash & uint64(length-1))
	reprobeCnt := 0
	defer func() {
		if reprobeCnt > 0 {
			m.domain.config.MetricsCollector.RecordReprobe(reprobeCnt)
		}
	}()

	for {
		slot = &table.slots[idx]
		curKey = StableRead(hz, 0, &slot.key)

		if curKey == nil {
			return slot, nil, idx, probeEmptySlot
		}
		if curKey.kind != keyTombstone {
			h := slot.hash.Load()
			if (h == 0 || h == fullhash) && m.keyEqFn(curKey.real, key) {
				return slot, curKey, idx, probeFoundKey
			}
		}

		m.reprobeCounter.Load().Increment()
		reprobeCnt++
		idx = (idx + 1) & (length - 1)
		if reprobeCnt >= m.domain.ReprobeLimit()+(length>>2) {
			return slot, curKey, idx, probeNeedsResize
		}
	}
}

// putIfMatch is the universal update primitive behind every mutating
// Map operation (spec.md §4.6).
func (m *Map[K, V]) putIfMatch(tr *ThreadRecord, table *kvTable[K, V], key K, fullhash uint64, newVal *slotValue[V], expect expectation[V]) (*slotValue[V], bool) {
	hz := tr.Hazards()
	slot, _, idx, outcome := m.probe(hz, table, key, fullhash)

	switch outcome {
	case probeNeedsResize:
		nt := m.ensureResize(tr, table)
		return m.putIfMatch(tr, nt, key, fullhash, newVal, expect)

	case probeEmptySlot:
		if newVal.kind == valueTombstone {
			return nil, false // deleting a key that was never inserted
		}
		newKey := &slotKey[K]{kind: keyReal, real: key}
		if !slot.key.CompareAndSwap(nil, newKey) {
			return m.putIfMatch(tr, table, key, fullhash, newVal, expect)
		}
		table.chm.slots.Add(1)
		slot.hash.Store(fullhash)
	}

	return m.updateValue(tr, table, slot, idx, key, newVal, expect)
}

func (m *Map[K, V]) matches(curVal *slotValue[V], expect expectation[V]) bool {
	switch expect.kind {
	case matchAny:
		return true
	case matchAbsent:
		return curVal == nil || curVal.kind == valueTombstone
	case matchPresent:
		return curVal != nil && curVal.kind == valueReal
	case matchValue:
		if curVal == nil || curVal.kind != valueReal {
			return false
		}
		return m.valEqFn(curVal.real, expect.value)
	}
	return false
}

func (m *Map[K, V]) updateValue(tr *ThreadRecord, table *kvTable[K, V], slot *mapSlot[K, V], idx int, key K, newVal *slotValue[V], expect expectation[V]) (*slotValue[V], bool) {
	hz := tr.Hazards()

	for {
		curVal := StableRead(hz, 1, &slot.value)

		if curVal != nil && curVal.prime {
			nt := m.ensureResize(tr, table)
			m.copySlot(tr, table, nt, idx)
			return m.putIfMatch(tr, nt, key, slot.hash.Load(), newVal, expect)
		}

		if !m.matches(curVal, expect) {
			return curVal, false
		}

		if slot.value.CompareAndSwap(curVal, newVal) {
			wasReal := curVal != nil && curVal.kind == valueReal
			nowReal := newVal.kind == valueReal
			switch {
			case !wasReal && nowReal:
				table.chm.size.Add(1)
			case wasReal && !nowReal:
				table.chm.size.Add(-1)
				table.chm.deadKeys.Add(1)
			}
			if wasReal && !nowReal && m.onRemove != nil {
				captured := curVal
				capturedKey := key
				tr.Retire(unsafe.Pointer(captured), "map-entry", func() {
					m.onRemove(capturedKey, captured.real)
				})
			}
			return curVal, true
		}
	}
}

func (m *Map[K, V]) sizeForResize(table *kvTable[K, V]) int {
	length := len(table.slots)
	sz := int(table.chm.size.Load())

	newLen := length * 2
	if sz >= length/2 {
		newLen = length * 4
	}

	cooldown := m.domain.ResizeCooldownNanos()
	age := m.domain.config.TimeProvider.Now() - table.chm.resizedAt.Load()
	if age <= cooldown && table.chm.deadKeys.Load()*2 >= int64(length) {
		newLen *= 2
	}

	newLen = nextPowerOf2(newLen)
	if newLen < minTableCapacity {
		newLen = minTableCapacity
	}
	return newLen
}

// ensureResize returns table's _newkvs, installing one if none exists
// yet. Losers of the installation race discard their speculative table
// (harmless in Go: it was never published, so the GC simply reclaims
// it) and help-copy into the winner's table instead.
func (m *Map[K, V]) ensureResize(tr *ThreadRecord, table *kvTable[K, V]) *kvTable[K, V] {
	if nt := table.chm.newTable.Load(); nt != nil {
		m.helpCopy(tr, table, nt, false)
		return nt
	}

	if table.chm.resizers.Add(1) > maxMapResizers {
		table.chm.resizers.Add(-1)
		for {
			if nt := table.chm.newTable.Load(); nt != nil {
				m.helpCopy(tr, table, nt, false)
				return nt
			}
			runtime.Gosched()
		}
	}
	defer table.chm.resizers.Add(-1)

	if nt := table.chm.newTable.Load(); nt != nil {
		m.helpCopy(tr, table, nt, false)
		return nt
	}

	newLen := m.sizeForResize(table)
	nt := &kvTable[K, V]{slots: make([]mapSlot[K, V], newLen), chm: &chm[K, V]{}}
	nt.chm.resizedAt.Store(m.domain.config.TimeProvider.Now())

	if table.chm.newTable.CompareAndSwap(nil, nt) {
		m.domain.config.MetricsCollector.RecordResize(len(table.slots), newLen)
		m.helpCopy(tr, table, nt, true)
		return nt
	}

	winner := table.chm.newTable.Load()
	m.helpCopy(tr, table, winner, false)
	return winner
}

// copySlot migrates old.slots[idx] into newTable, returning true iff
// this call confirmed the null->value transition in the new table (or a
// vacuous tombstone copy) — spec.md §4.6.3's definition of a "confirmed
// copy".
func (m *Map[K, V]) copySlot(tr *ThreadRecord, old, newTable *kvTable[K, V], idx int) bool {
	slot := &old.slots[idx]

	for {
		k := slot.key.Load()
		if k != nil {
			break
		}
		if slot.key.CompareAndSwap(nil, m.tombstoneKey) {
			break
		}
	}
	k := slot.key.Load()

	var primed *slotValue[V]
	for {
		v := slot.value.Load()
		if v != nil && v.prime {
			primed = v
			break
		}
		var next *slotValue[V]
		if v == nil || v.kind == valueTombstone {
			next = m.tombPrimeVal
		} else {
			next = &slotValue[V]{kind: valueReal, real: v.real, prime: true}
		}
		if slot.value.CompareAndSwap(v, next) {
			primed = next
			break
		}
	}

	if primed.kind == valueTombstone {
		if k.kind != keyTombstone {
			slot.key.CompareAndSwap(k, m.tombstoneKey)
		}
		return true
	}

	unprimed := &slotValue[V]{kind: valueReal, real: primed.real}
	prev, transitioned := m.putIfMatch(tr, newTable, k.real, slot.hash.Load(), unprimed, expectation[V]{kind: matchAbsent})
	confirmed := transitioned && prev == nil

	slot.value.CompareAndSwap(primed, m.tombPrimeVal)
	return confirmed
}

func (m *Map[K, V]) helpCopy(tr *ThreadRecord, old, newTable *kvTable[K, V], copyAll bool) {
	oldLen := len(old.slots)
	chunk := oldLen
	if chunk > m.domain.MinCopyWork() {
		chunk = m.domain.MinCopyWork()
	}
	if chunk == 0 {
		chunk = 1
	}

	for {
		if old.chm.copyDone.Load() >= int64(oldLen) {
			return
		}
		start := int(old.chm.copyIdx.Add(int64(chunk))) - chunk
		if start >= 2*oldLen {
			break // panic mode: claims are exhausted without finishing
		}
		if start >= oldLen {
			if !copyAll {
				return
			}
			continue
		}

		end := start + chunk
		if end > oldLen {
			end = oldLen
		}
		m.copyRange(tr, old, newTable, start, end)

		if !copyAll {
			return
		}
	}

	m.domain.config.MetricsCollector.RecordPanicCopy()
	for old.chm.copyDone.Load() < int64(oldLen) {
		m.copyRange(tr, old, newTable, 0, oldLen)
	}
}

func (m *Map[K, V]) copyRange(tr *ThreadRecord, old, newTable *kvTable[K, V], start, end int) {
	copied := 0
	for i := start; i < end; i++ {
		if m.copySlot(tr, old, newTable, i) {
			copied++
			if old.chm.copyDone.Add(1) == int64(len(old.slots)) {
				m.promote(tr, old, newTable)
			}
		}
	}
	if copied > 0 {
		m.domain.config.MetricsCollector.RecordCopyChunk(copied)
	}
}

// promote installs newTable as the map's top-level table once every
// slot of old has been copied, then retires old. old's finalizer is
// trivial: every real->tombstone transition already fired onRemove at
// its own linearization point in updateValue, so promote must not fire
// it again.
func (m *Map[K, V]) promote(tr *ThreadRecord, old, newTable *kvTable[K, V]) {
	if !m.table.CompareAndSwap(old, newTable) {
		return
	}
	captured := old
	tr.Retire(unsafe.Pointer(captured), "map-table", func() {})
}

// Get returns the value stored under key, if any.
func (m *Map[K, V]) Get(key K) (value V, ok bool) {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	fullhash := m.fullHash(key)
	table := m.loadTable(hz, 2)

	for {
		slot, _, idx, outcome := m.probe(hz, table, key, fullhash)
		switch outcome {
		case probeEmptySlot:
			var zero V
			return zero, false
		case probeNeedsResize:
			nt := table.chm.newTable.Load()
			if nt == nil {
				var zero V
				return zero, false
			}
			table = nt
			continue
		}

		curVal := StableRead(hz, 1, &slot.value)

		if curVal != nil && curVal.prime {
			nt := table.chm.newTable.Load()
			if nt == nil {
				var zero V
				return zero, false
			}
			m.copySlot(tr, table, nt, idx)
			table = nt
			continue
		}

		return m.unwrap(curVal)
	}
}

// Contains reports whether key is present.
func (m *Map[K, V]) Contains(key K) bool {
	_, ok := m.Get(key)
	return ok
}

// Put unconditionally sets key to value, returning the previous value
// if one was present.
func (m *Map[K, V]) Put(key K, value V) (previous V, hadPrevious bool) {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	table := m.loadTable(hz, 2)
	prev, _ := m.putIfMatch(tr, table, key, m.fullHash(key), &slotValue[V]{kind: valueReal, real: value}, expectation[V]{kind: matchAny})
	return m.unwrap(prev)
}

// PutIfAbsent inserts value under key only if key is absent, mirroring
// sync.Map.LoadOrStore: loaded is true if an existing value was found
// (in which case value was not stored).
func (m *Map[K, V]) PutIfAbsent(key K, value V) (actual V, loaded bool) {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	table := m.loadTable(hz, 2)
	prev, transitioned := m.putIfMatch(tr, table, key, m.fullHash(key), &slotValue[V]{kind: valueReal, real: value}, expectation[V]{kind: matchAbsent})
	if transitioned {
		return value, false
	}
	existing, _ := m.unwrap(prev)
	return existing, true
}

// Replace sets key to newValue only if key currently holds any value,
// returning the value it replaced.
func (m *Map[K, V]) Replace(key K, newValue V) (previous V, replaced bool) {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	table := m.loadTable(hz, 2)
	prev, transitioned := m.putIfMatch(tr, table, key, m.fullHash(key), &slotValue[V]{kind: valueReal, real: newValue}, expectation[V]{kind: matchPresent})
	if !transitioned {
		var zero V
		return zero, false
	}
	pv, _ := m.unwrap(prev)
	return pv, true
}

// ReplaceValue sets key to newValue only if it currently equals
// oldValue (per WithValueEqual). Requires WithValueEqual to have been
// called.
func (m *Map[K, V]) ReplaceValue(key K, oldValue, newValue V) (bool, error) {
	if m.valEqFn == nil {
		return false, NewErrInvalidConfig("valueEqual", nil)
	}
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	table := m.loadTable(hz, 2)
	_, transitioned := m.putIfMatch(tr, table, key, m.fullHash(key), &slotValue[V]{kind: valueReal, real: newValue}, expectation[V]{kind: matchValue, value: oldValue})
	return transitioned, nil
}

// Remove deletes key unconditionally, returning the value it removed.
func (m *Map[K, V]) Remove(key K) (previous V, removed bool) {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	table := m.loadTable(hz, 2)
	prev, transitioned := m.putIfMatch(tr, table, key, m.fullHash(key), m.tombstoneVal, expectation[V]{kind: matchPresent})
	if !transitioned {
		var zero V
		return zero, false
	}
	pv, _ := m.unwrap(prev)
	return pv, true
}

// RemoveValue deletes key only if it currently equals value (per
// WithValueEqual). Requires WithValueEqual to have been called.
func (m *Map[K, V]) RemoveValue(key K, value V) (bool, error) {
	if m.valEqFn == nil {
		return false, NewErrInvalidConfig("valueEqual", nil)
	}
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	hz := tr.Hazards()

	table := m.loadTable(hz, 2)
	_, transitioned := m.putIfMatch(tr, table, key, m.fullHash(key), m.tombstoneVal, expectation[V]{kind: matchValue, value: value})
	return transitioned, nil
}

// Size returns the number of live entries in the map's current
// top-level table.
func (m *Map[K, V]) Size() int {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)
	table := m.loadTable(tr.Hazards(), 2)
	return int(table.chm.size.Load())
}

// Clear removes every entry from the map by installing a fresh empty
// table and retiring the old one, firing WithOnRemove for any entry
// that was still live at that instant (spec.md §9 treats the original's
// clear()-leaks-a-shell behavior as a bug; this swap-and-retire is the
// corrected behavior translated to talos's flat Map type).
func (m *Map[K, V]) Clear() {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)

	fresh := &kvTable[K, V]{slots: make([]mapSlot[K, V], minTableCapacity), chm: &chm[K, V]{}}
	fresh.chm.resizedAt.Store(m.domain.config.TimeProvider.Now())

	old := m.table.Swap(fresh)
	captured := old
	tr.Retire(unsafe.Pointer(captured), "map-table", func() {
		if m.onRemove == nil {
			return
		}
		for i := range captured.slots {
			slot := &captured.slots[i]
			k := slot.key.Load()
			if k == nil || k.kind != keyReal {
				continue
			}
			v := slot.value.Load()
			if v != nil && v.kind == valueReal {
				m.onRemove(k.real, v.real)
			}
		}
	})
}

// Reprobes returns the number of reprobe events observed since the last
// call (or since creation), then resets the counter by CAS-swapping in
// a fresh one and retiring the old one through SMR (spec.md §4.6.5).
func (m *Map[K, V]) Reprobes() int64 {
	tr := m.domain.Checkout()
	defer m.domain.Checkin(tr)

	fresh := NewCounter(m.domain)
	old := m.reprobeCounter.Swap(fresh)
	val := old.Get()
	captured := old
	tr.Retire(unsafe.Pointer(captured), "map-reprobe-counter", func() {})
	return val
}
