// config.go: configuration for the talos SMR domain and its data
// structures.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import (
	"github.com/agilira/go-timecache"
)

// Config holds the tunable parameters shared by a *Domain and the data
// structures built on top of it.
type Config struct {
	// HazardsPerThread is the number of publishable hazard slots in each
	// thread record. Must be > 0. Default: DefaultHazardsPerThread.
	HazardsPerThread int

	// RetireScanMultiple controls when a thread's retired list triggers
	// Domain.scan(): the scan runs once the list reaches
	// RetireScanMultiple * (total published hazard slots across the
	// domain). A value of 0 forces a scan on every retire (useful for
	// tests that want eager, deterministic reclamation), so Validate keeps
	// 0 as given and replaces only negative values with
	// DefaultRetireScanMultiple. DefaultConfig starts from
	// DefaultRetireScanMultiple.
	RetireScanMultiple int

	// ReprobeLimit is REPROBE_LIMIT from spec.md §4.6.2: the number of
	// reprobes a hash-map probe tolerates before considering a resize.
	// Must be > 0. Default: DefaultReprobeLimit.
	ReprobeLimit int

	// MinCopyWork is the number of slots a thread claims per
	// cooperative-copy chunk during a hash-map resize, capped at the old
	// table's length. Default: DefaultMinCopyWork.
	MinCopyWork int

	// ResizeCooldownNanos is the window, in nanoseconds, within which a
	// resize that finds half the table occupied by dead keys doubles the
	// new table again rather than just doubling once. Default:
	// DefaultResizeCooldown.
	ResizeCooldownNanos int64

	// Logger is kept on the domain's configuration; no talos code path
	// writes messages to it. If nil, NoOpLogger is used.
	Logger Logger

	// TimeProvider supplies the coarse clock used by the striped
	// counter's EstimateGet and the hash map's resize cooldown check.
	// If nil, a default backed by go-timecache is used.
	TimeProvider TimeProvider

	// MetricsCollector receives operational telemetry. If nil,
	// NoOpMetricsCollector is used (zero overhead).
	MetricsCollector MetricsCollector
}

// Validate normalizes c in place, filling in defaults for any zero-valued
// field except RetireScanMultiple (where 0 selects eager scans), and
// returns an error only if a field was set to a value that
// cannot be normalized (i.e. is actively invalid rather than merely
// unset).
//
// This mirrors the "fill defaults, rarely reject" philosophy of a
// hot-reloadable config: most fields accept 0 to mean "use the default."
func (c *Config) Validate() error {
	if c.HazardsPerThread < 0 {
		return NewErrInvalidHazardCount(c.HazardsPerThread)
	}
	if c.HazardsPerThread == 0 {
		c.HazardsPerThread = DefaultHazardsPerThread
	}

	if c.RetireScanMultiple < 0 {
		c.RetireScanMultiple = DefaultRetireScanMultiple
	}

	if c.ReprobeLimit < 0 {
		return NewErrInvalidReprobeLimit(c.ReprobeLimit)
	}
	if c.ReprobeLimit == 0 {
		c.ReprobeLimit = DefaultReprobeLimit
	}

	if c.MinCopyWork <= 0 {
		c.MinCopyWork = DefaultMinCopyWork
	}

	if c.ResizeCooldownNanos <= 0 {
		c.ResizeCooldownNanos = DefaultResizeCooldown
	}

	if c.Logger == nil {
		c.Logger = NoOpLogger{}
	}

	if c.TimeProvider == nil {
		c.TimeProvider = &systemTimeProvider{}
	}

	if c.MetricsCollector == nil {
		c.MetricsCollector = NoOpMetricsCollector{}
	}

	return nil
}

// DefaultConfig returns a Config with sensible defaults already applied.
func DefaultConfig() Config {
	cfg := Config{RetireScanMultiple: DefaultRetireScanMultiple}
	_ = cfg.Validate()
	return cfg
}

// systemTimeProvider is the default time provider, backed by
// go-timecache for a cached, allocation-free clock read.
type systemTimeProvider struct{}

func (systemTimeProvider) Now() int64 {
	return timecache.CachedTimeNano()
}
