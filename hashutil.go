// hashutil.go: hashing and bit-mixing helpers shared across talos's data
// structures. The FNV-1a string hash and the xorshift64 RNG are adapted
// from the frequency sketch in the teacher cache's sketch.go; the
// Count-Min Sketch itself has no place in this domain (talos does not do
// frequency-based eviction), so only these primitives survive.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import "unsafe"

// StringHash computes a 64-bit FNV-1a hash of s with no allocations. It is
// a reasonable default HashFunc[string] for Map.
func StringHash(s string) uint64 {
	const (
		fnv64Offset = 14695981039346656037
		fnv64Prime  = 1099511628211
	)

	hash := uint64(fnv64Offset)

	// #nosec G103 -- read-only view of the string's bytes, no allocation
	data := unsafe.Slice(unsafe.StringData(s), len(s))
	for _, b := range data {
		hash ^= uint64(b)
		hash *= fnv64Prime
	}
	return hash
}

// spreadHash applies Austin Appleby's 64-bit finalizer mix to a user hash
// before it is used to index a table. This is "fullhash" in spec.md
// §4.6: it defends against hash functions that cluster in the low bits
// (e.g. a hash that is just the key's small integer value).
func spreadHash(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

// wangMix64 is Thomas Wang's 64-bit integer mixer, used to spread a
// goroutine-affinity value (a stack address, see counter.go) into a
// well-distributed cell index.
func wangMix64(x uint64) uint64 {
	x = (^x) + (x << 21)
	x ^= x >> 24
	x += (x << 3) + (x << 8)
	x ^= x >> 14
	x += (x << 2) + (x << 4)
	x ^= x >> 28
	x += x << 31
	return x
}

// xorshift64 advances a non-zero 64-bit state with the xorshift64
// algorithm. No non-test code calls it; the race tests use it to drive a
// pseudo-random mixed workload.
func xorshift64(state uint64) uint64 {
	if state == 0 {
		state = 0x9e3779b97f4a7c15
	}
	state ^= state << 13
	state ^= state >> 7
	state ^= state << 17
	return state
}

// nextPowerOf2 returns the smallest power of two >= n (minimum 1).
func nextPowerOf2(n int) int {
	if n <= 1 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
