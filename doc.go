// Package talos provides lock-free concurrent data structures built on a
// shared hazard-pointer Safe Memory Reclamation (SMR) engine.
//
// # Overview
//
// talos exposes three primary data structures plus two simpler ones, all
// sharing one SMR domain per process:
//
//   - Counter: a striped, auto-resizing integer counter (add/increment/get)
//   - Map[K, V]: a non-blocking hash map with cooperative incremental resize,
//     derived from Cliff Click's NonBlockingHashMap design
//   - List[K, V]: a Harris-style sorted singly-linked key/value list
//   - Stack[T]: a Treiber stack
//   - Queue[T]: a Michael-Scott queue
//
// All of them publish hazard pointers through a shared *Domain and retire
// displaced nodes through it, so readers never observe a half-freed
// structure and eviction/removal callbacks fire exactly once.
//
// # Quick start
//
//	dom := talos.NewDomain(talos.DefaultConfig())
//	m := talos.NewMap[string, int](dom, talos.StringHash, func(a, b string) bool { return a == b })
//
//	m.Put("requests", 1)
//	if v, ok := m.Get("requests"); ok {
//		fmt.Println(v)
//	}
//
// # Concurrency model
//
// No operation takes a lock. The only waiting is bounded-count spin
// (contention retries on CAS), pause hints, and brief yields while a
// resize's winner is decided. Every exported type is safe for concurrent
// use by any number of goroutines that have not been told otherwise.
//
// # Thread registration
//
// Go has no reliable per-goroutine destructor, so instead of requiring
// explicit attach/detach calls on every goroutine, each *Domain keeps a
// list of reusable thread records, each owning a hazard record (see
// smr.go), and operations check one out for their duration.
// RegisterThread/UnregisterThread keep a thread record checked out for a
// worker's lifetime, for direct use of its Hazards, Retire and Scan; the
// Map, List, Counter, Stack and Queue operations do not take a
// ThreadRecord and still check out their own for each call.
package talos

// Version is the current module version.
const Version = "v0.1.0-dev"

const (
	// DefaultHazardsPerThread is the number of publishable hazard slots in
	// each thread record. talos never needs more than 3 live hazards for
	// any single operation (a hash-map operation's table, key and value
	// pointers are the worst case), so a small fixed capacity is plenty.
	DefaultHazardsPerThread = 4

	// DefaultRetireScanMultiple sets the retired-list length, as a
	// multiple of the total published hazard-slot count, at which a
	// thread triggers Domain.scan(). See spec.md §4.2.
	DefaultRetireScanMultiple = 2

	// DefaultReprobeLimit is REPROBE_LIMIT from spec.md §4.6.2.
	DefaultReprobeLimit = 10

	// DefaultMinCopyWork is MIN_COPY_WORK from spec.md §4.6.3.
	DefaultMinCopyWork = 1024

	// DefaultResizeCooldown is the window in which a resize that finds
	// half the table dead re-doubles proactively (spec.md §4.6.2).
	DefaultResizeCooldown = 1_000_000_000 // 1s, in nanoseconds

	// minTableCapacity is the minimum kv-array capacity (2^MIN_SIZE_LOG).
	minTableCapacity = 8

	// maxCounterCells bounds the counter's cell-array growth (1 MiB entries).
	maxCounterCells = 1 << 20
)
