// list.go: a Harris-style sorted lock-free singly-linked list.
//
// Grounded on spec.md §4.5 ("Sorted list"). The logical-delete mark
// lives in the low bit of a node's own next pointer, stored as a raw
// atomic.Uintptr rather than an atomic.Pointer[T] — this is the one
// place in talos where real pointer-bit-tagging survives the port to
// Go, because find's helping-unlink step genuinely needs to CAS the
// pointer and its mark bit together in a single word (see SPEC_FULL.md
// §4.3).
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"sync/atomic"
	"unsafe"
)

type listNode[K any, V any] struct {
	key   K
	value V
	next  atomic.Uintptr // low bit: this node is logically deleted
}

func listNodeOf[K any, V any](raw uintptr) *listNode[K, V] {
	return (*listNode[K, V])(unsafe.Pointer(raw &^ 1)) // #nosec G103
}

func isMarked(raw uintptr) bool  { return raw&1 == 1 }
func markOf(raw uintptr) uintptr { return raw | 1 }

// List is a lock-free sorted singly-linked list keyed by K, ordered by
// less. Keys are unique: Insert reports false without modifying the list
// if an equal key (by less) is already present.
type List[K any, V any] struct {
	domain   *Domain
	less     func(a, b K) bool
	onRemove func(key K, value V)
	head     atomic.Uintptr // raw *listNode[K,V]; never itself marked
	size     atomic.Int64
}

// NewList creates an empty List backed by domain, ordered by less.
// onRemove, if non-nil, is invoked exactly once per successfully removed
// entry (including entries removed by Erase and never reinserted), after
// SMR has established no hazard pointer still references the node.
func NewList[K any, V any](domain *Domain, less func(a, b K) bool, onRemove func(key K, value V)) *List[K, V] {
	return &List[K, V]{domain: domain, less: less, onRemove: onRemove}
}

// find walks the list starting at the head, physically unlinking any
// logically-deleted node it passes through, and returns the next-field
// to CAS against (either &l.head or a live node's &node.next), the first
// node whose key is >= key (nil at the tail), and whether that node's
// key equals key.
func (l *List[K, V]) find(tr *ThreadRecord, key K) (predField *atomic.Uintptr, curr *listNode[K, V], found bool) {
	hz := tr.Hazards()

retry:
	predField = &l.head
	hz.Clear(0)

	for {
		currRaw := StableReadTagged(hz, 1, predField)
		if currRaw == 0 {
			return predField, nil, false
		}

		curr = listNodeOf[K, V](currRaw)
		nextRaw := curr.next.Load()

		if isMarked(nextRaw) {
			unmarkedNext := nextRaw &^ 1
			if !predField.CompareAndSwap(currRaw, unmarkedNext) {
				goto retry
			}
			captured := curr
			tr.Retire(unsafe.Pointer(captured), "list-node", func() {
				if l.onRemove != nil {
					l.onRemove(captured.key, captured.value)
				}
			})
			goto retry
		}

		switch {
		case l.less(key, curr.key):
			return predField, curr, false
		case l.less(curr.key, key):
			predField = &curr.next
			hz.Publish(0, unsafe.Pointer(curr))
			hz.Clear(1)
		default:
			return predField, curr, true
		}
	}
}

// Insert adds key/value to the list in sorted position. It reports false
// without modifying the list if key is already present.
func (l *List[K, V]) Insert(key K, value V) bool {
	tr := l.domain.Checkout()
	defer l.domain.Checkin(tr)

	n := &listNode[K, V]{key: key, value: value}
	for {
		predField, curr, found := l.find(tr, key)
		if found {
			return false
		}

		var nextRaw uintptr
		if curr != nil {
			nextRaw = uintptr(unsafe.Pointer(curr))
		}
		n.next.Store(nextRaw)
		if predField.CompareAndSwap(nextRaw, uintptr(unsafe.Pointer(n))) {
			l.size.Add(1)
			return true
		}
	}
}

// Find reports the value stored under key, if any.
func (l *List[K, V]) Find(key K) (value V, ok bool) {
	tr := l.domain.Checkout()
	defer l.domain.Checkin(tr)

	_, curr, found := l.find(tr, key)
	if !found {
		var zero V
		return zero, false
	}
	return curr.value, true
}

// Erase removes key from the list, reporting whether it was present.
// onRemove (if configured) fires exactly once for the removed entry,
// possibly from a later caller's Find/Insert/Erase call that happens to
// perform the physical unlink this call only logically marked.
func (l *List[K, V]) Erase(key K) bool {
	tr := l.domain.Checkout()
	defer l.domain.Checkin(tr)

	for {
		predField, curr, found := l.find(tr, key)
		if !found {
			return false
		}

		nextRaw := curr.next.Load()
		if isMarked(nextRaw) {
			continue
		}
		if !curr.next.CompareAndSwap(nextRaw, markOf(nextRaw)) {
			continue
		}

		l.size.Add(-1)
		if predField.CompareAndSwap(uintptr(unsafe.Pointer(curr)), nextRaw) {
			captured := curr
			tr.Retire(unsafe.Pointer(captured), "list-node", func() {
				if l.onRemove != nil {
					l.onRemove(captured.key, captured.value)
				}
			})
		}
		return true
	}
}

// Empty reports whether the list currently has no elements.
func (l *List[K, V]) Empty() bool {
	return l.head.Load() == 0
}

// Size returns the number of elements currently in the list, tracked
// incrementally alongside Insert/Erase.
func (l *List[K, V]) Size() int {
	return int(l.size.Load())
}
