// hot-reload.go: dynamic tunable reload for a *Domain, using Argus.
//
// The teacher's cache hot-reloads MaxSize/TTL/WindowRatio/CounterBits;
// talos hot-reloads the four SMR/hash-map tunables that can safely change
// underneath a live domain without a rebuild: ReprobeLimit, MinCopyWork,
// ResizeCooldownNanos and RetireScanMultiple. All four are backed by
// atomics on Domain (see smr.go), so applying a reload is just a setter
// call — no structure reconstruction, unlike MaxSize in the teacher.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package talos

import (
	"fmt"
	"sync"
	"time"

	"github.com/agilira/argus"
)

// DomainTunables is the hot-reloadable subset of Config: the fields a
// running Domain can safely accept at runtime.
type DomainTunables struct {
	ReprobeLimit        int
	MinCopyWork         int
	ResizeCooldownNanos int64
	RetireScanMultiple  int
}

// HotConfig watches a configuration file via Argus and pushes changes into
// a live *Domain's tunables as they're detected.
type HotConfig struct {
	domain  *Domain
	watcher *argus.Watcher
	mu      sync.RWMutex
	tuned   DomainTunables

	// OnReload is called after a configuration file change is applied.
	// Optional; must be fast and non-blocking.
	OnReload func(old, new DomainTunables)
}

// HotConfigOptions configures hot reload behavior.
type HotConfigOptions struct {
	// ConfigPath is the path to the configuration file to watch.
	// Supports JSON, YAML, TOML, HCL, INI, Properties formats.
	ConfigPath string

	// PollInterval is how often to check for configuration changes.
	// Default: 1 second. Minimum: 100ms.
	PollInterval time.Duration

	// OnReload is called after configuration is successfully reloaded.
	OnReload func(old, new DomainTunables)

	// Logger is accepted for hot reload operations; NewHotConfig does not
	// keep it, and no hot reload code writes messages to it.
	Logger Logger
}

// NewHotConfig creates a hot-reloadable tunable watcher for domain. It
// starts watching the configuration file immediately.
//
// Example configuration file (YAML):
//
//	talos:
//	  reprobe_limit: 12
//	  min_copy_work: 256
//	  resize_cooldown_nanos: 500000000
//	  retire_scan_multiple: 2
//
// Supported configuration keys:
//   - talos.reprobe_limit (int): spec.md §4.6.2 REPROBE_LIMIT
//   - talos.min_copy_work (int): spec.md §4.6.3 MIN_COPY_WORK
//   - talos.resize_cooldown_nanos (int): resize-cooldown window in ns
//   - talos.retire_scan_multiple (int): spec.md §4.2 scan-trigger multiple
func NewHotConfig(domain *Domain, opts HotConfigOptions) (*HotConfig, error) {
	if opts.ConfigPath == "" {
		return nil, fmt.Errorf("config_path is required")
	}

	if opts.PollInterval == 0 {
		opts.PollInterval = 1 * time.Second
	} else if opts.PollInterval < 100*time.Millisecond {
		opts.PollInterval = 100 * time.Millisecond
	}

	if opts.Logger == nil {
		opts.Logger = NoOpLogger{}
	}

	hc := &HotConfig{
		domain:   domain,
		OnReload: opts.OnReload,
		tuned: DomainTunables{
			ReprobeLimit:        domain.ReprobeLimit(),
			MinCopyWork:         domain.MinCopyWork(),
			ResizeCooldownNanos: domain.ResizeCooldownNanos(),
			RetireScanMultiple:  domain.RetireScanMultiple(),
		},
	}

	argusConfig := argus.Config{
		PollInterval: opts.PollInterval,
	}

	watcher, err := argus.UniversalConfigWatcherWithConfig(opts.ConfigPath, hc.handleConfigChange, argusConfig)
	if err != nil {
		return nil, err
	}
	hc.watcher = watcher

	return hc, nil
}

// Start begins watching the configuration file for changes.
func (hc *HotConfig) Start() error {
	if hc.watcher.IsRunning() {
		return nil
	}
	return hc.watcher.Start()
}

// Stop stops watching the configuration file.
func (hc *HotConfig) Stop() error {
	return hc.watcher.Stop()
}

// Tunables returns the last-applied tunable snapshot (thread-safe).
func (hc *HotConfig) Tunables() DomainTunables {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.tuned
}

// handleConfigChange is called by Argus when the configuration file changes.
func (hc *HotConfig) handleConfigChange(configData map[string]interface{}) {
	hc.mu.Lock()
	old := hc.tuned
	next := hc.parseConfig(configData, old)
	hc.tuned = next
	hc.mu.Unlock()

	hc.applyChanges(next)

	if hc.OnReload != nil {
		hc.OnReload(old, next)
	}
}

// parsePositiveInt extracts a positive integer from interface{} value.
// Supports both int and float64 types (YAML/JSON may vary).
func parsePositiveInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case float64:
		if v > 0 {
			return int(v), true
		}
	}
	return 0, false
}

// parsePositiveInt64 extracts a positive int64 from interface{} value.
func parsePositiveInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return int64(v), true
		}
	case int64:
		if v > 0 {
			return v, true
		}
	case float64:
		if v > 0 {
			return int64(v), true
		}
	}
	return 0, false
}

// parseConfig extracts talos tunables from Argus config data, falling back
// to fallback for any key that is absent or fails validation.
func (hc *HotConfig) parseConfig(data map[string]interface{}, fallback DomainTunables) DomainTunables {
	next := fallback

	section, ok := data["talos"].(map[string]interface{})
	if !ok {
		if _, hasReprobe := data["reprobe_limit"]; hasReprobe {
			section = data
		} else {
			return next
		}
	}

	if v, ok := parsePositiveInt(section["reprobe_limit"]); ok {
		next.ReprobeLimit = v
	}
	if v, ok := parsePositiveInt(section["min_copy_work"]); ok {
		next.MinCopyWork = v
	}
	if v, ok := parsePositiveInt64(section["resize_cooldown_nanos"]); ok {
		next.ResizeCooldownNanos = v
	}
	if v, ok := parsePositiveInt(section["retire_scan_multiple"]); ok {
		next.RetireScanMultiple = v
	} else if raw, present := section["retire_scan_multiple"]; present {
		if f, isZero := raw.(float64); isZero && f == 0 {
			next.RetireScanMultiple = 0
		}
	}

	return next
}

// applyChanges pushes next into the live domain's tunables.
func (hc *HotConfig) applyChanges(next DomainTunables) {
	hc.domain.SetReprobeLimit(next.ReprobeLimit)
	hc.domain.SetMinCopyWork(next.MinCopyWork)
	hc.domain.SetResizeCooldownNanos(next.ResizeCooldownNanos)
	hc.domain.SetRetireScanMultiple(next.RetireScanMultiple)
}
