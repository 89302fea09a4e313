// smr.go: the hazard-pointer Safe Memory Reclamation engine shared by
// every data structure in this package.
//
// Grounded on original_source/Lockless/include/smr.hpp and smr.h (the
// DrPizza/lockless C++ library spec.md was distilled from) and on
// spec.md §4.2. Go's garbage collector already makes it impossible to
// use-after-free the underlying memory; what this engine actually
// guarantees is that a retired object's Finalizer — typically an
// OnRemove/OnEvict callback, or the "shallow" cleanup that promotes a
// hash-map resize — runs exactly once, and only once no published
// hazard pointer can still be examining that object. See SPEC_FULL.md
// §4.4 for the full rationale.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"sync/atomic"
	"unsafe"
)

// Finalizer is invoked by a Domain scan once no hazard pointer in the
// domain still holds the retired address. Closures take the place of the
// function-pointer-plus-context pair the original C++ smr_destructible
// capability used (spec.md §9): whatever the finalizer needs is simply
// captured by the closure.
type Finalizer func()

type retiredEntry struct {
	addr uintptr
	kind string
	fin  Finalizer
}

// hazardRecord is one fixed-capacity block of publishable hazard slots.
// Once allocated it is never freed; an idle record is reused by whichever
// thread record next needs one. This mirrors spec.md §4.2: "Records are
// allocated once and reused; allocation paths ... are themselves
// lock-free (CAS-prepend on the global list)."
type hazardRecord struct {
	active atomic.Bool
	slots  []atomic.Uintptr
	next   atomic.Pointer[hazardRecord]
}

// HazardHandle is a checked-out hazardRecord. Publish pointers into its
// slots before dereferencing them and Release it when the operation that
// acquired it is done.
type HazardHandle struct {
	rec *hazardRecord
}

// Publish stores ptr into slot i, masking off the low 4 bits so that any
// tag bits a caller's pointer carries (e.g. a Harris-list mark bit) don't
// create a spurious non-match during a scan. See spec.md §4.3.
func (h *HazardHandle) Publish(i int, ptr unsafe.Pointer) {
	h.rec.slots[i].Store(uintptr(ptr) &^ 0xF)
}

// Clear clears slot i.
func (h *HazardHandle) Clear(i int) {
	h.rec.slots[i].Store(0)
}

// StableRead repeatedly loads *location into slot i until a second load
// agrees with the first, publishing the (masked) candidate pointer
// between the two loads so that no window exists where a concurrent
// retire could race ahead unobserved. This is the "stable read" idiom
// used throughout talos (spec.md §4.3) wherever a pointer is loaded from
// a shared location and hazard-protected before use. Some reads are not
// hazard-protected at all (e.g. Counter.Add and Counter.EstimateGet load
// the head level directly, and Map.Get follows a table's newTable link
// with a plain load).
func StableRead[T any](h *HazardHandle, slot int, location *atomic.Pointer[T]) *T {
	for {
		p := location.Load()
		h.Publish(slot, unsafe.Pointer(p))
		if location.Load() == p {
			return p
		}
	}
}

// StableReadTagged is StableRead's counterpart for a location that packs
// tag bits into the low bits of the stored word (list.go's logical-delete
// mark on a node's own next pointer). Publish still masks off the low 4
// bits before publishing, per spec.md §4.3, but the raw tagged value
// handed back to the caller keeps its tag bits intact.
func StableReadTagged(h *HazardHandle, slot int, location *atomic.Uintptr) uintptr {
	for {
		raw := location.Load()
		h.Publish(slot, unsafe.Pointer(raw&^0xF)) // #nosec G103
		if location.Load() == raw {
			return raw
		}
	}
}

func (h *HazardHandle) release() {
	for i := range h.rec.slots {
		h.rec.slots[i].Store(0)
	}
	h.rec.active.Store(false)
}

// ThreadRecord is a registered participant's SMR state: its retired list
// and its permanently-owned hazard record. It is never deleted once
// allocated; Domain.Checkout/Checkin (and RegisterThread/UnregisterThread)
// reuse idle records rather than allocating new ones.
type ThreadRecord struct {
	active  atomic.Bool
	domain  *Domain
	hazards *HazardHandle
	retired []retiredEntry
	next    atomic.Pointer[ThreadRecord]
}

// Hazards returns this record's owned hazard handle, good for the
// lifetime of the checkout.
func (tr *ThreadRecord) Hazards() *HazardHandle { return tr.hazards }

// Retire schedules the object at addr for reclamation once no hazard
// pointer in the domain references it. fin runs exactly once, after that
// point. kind is a short label used only for metrics.
func (tr *ThreadRecord) Retire(addr unsafe.Pointer, kind string, fin Finalizer) {
	tr.retired = append(tr.retired, retiredEntry{addr: uintptr(addr) &^ 0xF, kind: kind, fin: fin})
	tr.domain.config.MetricsCollector.RecordRetire(kind)
	tr.domain.maybeScan(tr)
}

// Domain is one process-wide (or, in tests, per-test) SMR engine. Every
// talos data structure is constructed against a *Domain and shares its
// hazard-pointer bookkeeping and retired-object reclamation with every
// other structure built on the same Domain.
type Domain struct {
	config Config

	hazardHead       atomic.Pointer[hazardRecord]
	threadHead       atomic.Pointer[ThreadRecord]
	totalHazardSlots atomic.Int64

	scanning atomic.Bool // not read or written by scan or any other code path

	// Hot-reloadable tunables. These mirror the matching Config fields at
	// construction time but live in their own atomics so hot-reload.go can
	// adjust them without racing readers; see Domain.ReprobeLimit et al.
	reprobeLimit        atomic.Int64
	minCopyWork         atomic.Int64
	resizeCooldownNanos atomic.Int64
	retireScanMultiple  atomic.Int64
}

// NewDomain creates an SMR domain. cfg is validated in place (see
// Config.Validate); pass DefaultConfig() for sensible defaults.
func NewDomain(cfg Config) *Domain {
	_ = cfg.Validate()
	d := &Domain{config: cfg}
	d.reprobeLimit.Store(int64(cfg.ReprobeLimit))
	d.minCopyWork.Store(int64(cfg.MinCopyWork))
	d.resizeCooldownNanos.Store(cfg.ResizeCooldownNanos)
	d.retireScanMultiple.Store(int64(cfg.RetireScanMultiple))
	return d
}

// ReprobeLimit returns the current reprobe-limit tunable (spec.md
// §4.6.2's REPROBE_LIMIT), adjustable at runtime via SetReprobeLimit.
func (d *Domain) ReprobeLimit() int { return int(d.reprobeLimit.Load()) }

// SetReprobeLimit updates the reprobe-limit tunable. Values <= 0 are
// ignored.
func (d *Domain) SetReprobeLimit(n int) {
	if n > 0 {
		d.reprobeLimit.Store(int64(n))
	}
}

// MinCopyWork returns the current cooperative-copy chunk size (spec.md
// §4.6.3's MIN_COPY_WORK), adjustable at runtime via SetMinCopyWork.
func (d *Domain) MinCopyWork() int { return int(d.minCopyWork.Load()) }

// SetMinCopyWork updates the cooperative-copy chunk size. Values <= 0
// are ignored.
func (d *Domain) SetMinCopyWork(n int) {
	if n > 0 {
		d.minCopyWork.Store(int64(n))
	}
}

// ResizeCooldownNanos returns the current resize-cooldown window in
// nanoseconds, adjustable at runtime via SetResizeCooldownNanos.
func (d *Domain) ResizeCooldownNanos() int64 { return d.resizeCooldownNanos.Load() }

// SetResizeCooldownNanos updates the resize-cooldown window. Values <= 0
// are ignored.
func (d *Domain) SetResizeCooldownNanos(n int64) {
	if n > 0 {
		d.resizeCooldownNanos.Store(n)
	}
}

// RetireScanMultiple returns the current retire-scan multiple (spec.md
// §4.2's R = RetireScanMultiple * total_hazard_slots), adjustable at
// runtime via SetRetireScanMultiple. 0 forces a scan on every retire.
func (d *Domain) RetireScanMultiple() int { return int(d.retireScanMultiple.Load()) }

// SetRetireScanMultiple updates the retire-scan multiple. Negative
// values are ignored.
func (d *Domain) SetRetireScanMultiple(n int) {
	if n >= 0 {
		d.retireScanMultiple.Store(int64(n))
	}
}

// recoverAllocFailure converts a panic raised by a failed allocation on an
// SMR-critical path into the structured fatal error spec.md §7 mandates
// ("allocation failure ... is fatal; ... process-terminating"), then
// re-panics with it. A partially completed allocation here cannot be
// recovered from without breaking the reclamation invariants every other
// operation depends on, so this is deliberately a panic, not an error
// return.
func recoverAllocFailure(operation string) {
	if r := recover(); r != nil {
		panic(NewErrSMRAllocFailed(operation))
	}
}

// AcquireHazards checks out an inactive hazard record with capacity >= n,
// or allocates a new one if none is available. This is the literal
// spec.md §4.2 contract; ThreadRecord callers normally use the record
// cached on Checkout instead of calling this directly.
func (d *Domain) AcquireHazards(n int) *HazardHandle {
	defer recoverAllocFailure("acquire-hazards")

	if n <= 0 {
		n = 1
	}
	for rec := d.hazardHead.Load(); rec != nil; rec = rec.next.Load() {
		if len(rec.slots) >= n && rec.active.CompareAndSwap(false, true) {
			d.config.MetricsCollector.RecordHazardAcquire()
			return &HazardHandle{rec: rec}
		}
	}

	rec := &hazardRecord{slots: make([]atomic.Uintptr, n)}
	rec.active.Store(true)
	for {
		head := d.hazardHead.Load()
		rec.next.Store(head)
		if d.hazardHead.CompareAndSwap(head, rec) {
			break
		}
	}
	d.totalHazardSlots.Add(int64(n))
	d.config.MetricsCollector.RecordHazardAcquire()
	return &HazardHandle{rec: rec}
}

// ReleaseHazards clears h's slots and returns it to the domain's pool of
// reusable hazard records.
func (d *Domain) ReleaseHazards(h *HazardHandle) {
	h.release()
}

func (d *Domain) newThreadRecord() *ThreadRecord {
	tr := &ThreadRecord{domain: d, hazards: d.AcquireHazards(d.config.HazardsPerThread)}
	tr.active.Store(true)
	for {
		head := d.threadHead.Load()
		tr.next.Store(head)
		if d.threadHead.CompareAndSwap(head, tr) {
			break
		}
	}
	return tr
}

// Checkout claims an inactive ThreadRecord (reusing one already linked
// into the domain's global thread list when possible) and marks it
// active. Every public operation that publishes hazards or retires
// objects brackets its work with Checkout/Checkin so it always has a
// hazard record and a retired list to work with, without requiring every
// goroutine to call RegisterThread itself. Operations that do neither
// (e.g. Stack.Push, Counter.Add, the Size/IsEmpty accessors) skip it.
func (d *Domain) Checkout() *ThreadRecord {
	for tr := d.threadHead.Load(); tr != nil; tr = tr.next.Load() {
		if tr.active.CompareAndSwap(false, true) {
			return tr
		}
	}
	return d.newThreadRecord()
}

// Checkin releases tr back to the domain for reuse by the next
// Checkout/RegisterThread caller. Any objects tr retired but that are
// still hazarded by another thread stay on tr's retired list and are
// inherited, unsynchronized, by whichever goroutine checks tr out next
// (spec.md §4.2: "help-scan ... adopted by a living thread").
func (d *Domain) Checkin(tr *ThreadRecord) {
	if len(tr.retired) > 0 {
		d.scan(tr)
	}
	tr.hazards.release0()
	tr.active.Store(false)
}

// release0 clears the hazard slots without relinquishing ownership: the
// ThreadRecord keeps its own hazard record across checkouts, per
// spec.md's "cache of previously-used hazard records."
func (h *HazardHandle) release0() {
	for i := range h.rec.slots {
		h.rec.slots[i].Store(0)
	}
}

// RegisterThread checks out a ThreadRecord and keeps it active until
// UnregisterThread, for a long-lived worker goroutine that uses the
// record's Hazards, Retire and Scan directly. The Map, List, Counter,
// Stack and Queue operations do not take a ThreadRecord: they still
// check out their own record on every call. This is the thread-lifecycle
// hook spec.md §6 describes as an external collaborator: the embedding
// runtime calls it once on thread attach.
func (d *Domain) RegisterThread() *ThreadRecord {
	return d.Checkout()
}

// UnregisterThread releases a ThreadRecord obtained from RegisterThread.
// Called once on thread detach.
func (d *Domain) UnregisterThread(tr *ThreadRecord) {
	d.Checkin(tr)
}

// maybeScan triggers a scan once tr's retired list reaches the
// configured threshold (spec.md §4.2: "R = 2*total_hazard_slots";
// RetireScanMultiple == 0 forces a scan on every retire, matching the
// spec's debug-build behavior of eager reclamation).
func (d *Domain) maybeScan(tr *ThreadRecord) {
	multiple := d.RetireScanMultiple()
	if multiple == 0 {
		d.scan(tr)
		return
	}
	threshold := multiple * int(d.totalHazardSlots.Load())
	if threshold > 0 && len(tr.retired) >= threshold {
		d.scan(tr)
	}
}

// Scan runs a reclamation pass for tr's retired list immediately,
// regardless of its length. Exposed for tests and for callers that want
// deterministic draining (e.g. before shutting down).
func (d *Domain) Scan(tr *ThreadRecord) {
	d.scan(tr)
}

func (d *Domain) scan(tr *ThreadRecord) {
	defer recoverAllocFailure("scan")

	start := d.config.TimeProvider.Now()

	live := make(map[uintptr]struct{}, d.totalHazardSlots.Load())
	for rec := d.hazardHead.Load(); rec != nil; rec = rec.next.Load() {
		for i := range rec.slots {
			if p := rec.slots[i].Load(); p != 0 {
				live[p] = struct{}{}
			}
		}
	}

	pending := tr.retired
	tr.retired = nil

	reclaimed := 0
	var requeue []retiredEntry
	for _, e := range pending {
		if _, hazarded := live[e.addr]; hazarded {
			requeue = append(requeue, e)
			continue
		}
		if e.fin != nil {
			e.fin()
		}
		reclaimed++
	}
	tr.retired = requeue

	d.config.MetricsCollector.RecordScan(d.config.TimeProvider.Now()-start, reclaimed)
}
