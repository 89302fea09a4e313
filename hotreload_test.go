// hotreload_test.go: unit tests for HotConfig's Argus config parsing and
// tunable application, independent of an actual file watcher.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package talos

import "testing"

func TestHotConfig_ParseConfig_NestedSection(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	hc := &HotConfig{domain: dom, tuned: DomainTunables{
		ReprobeLimit:        DefaultReprobeLimit,
		MinCopyWork:         DefaultMinCopyWork,
		ResizeCooldownNanos: DefaultResizeCooldown,
		RetireScanMultiple:  DefaultRetireScanMultiple,
	}}

	data := map[string]interface{}{
		"talos": map[string]interface{}{
			"reprobe_limit":          20,
			"min_copy_work":          2048.0,
			"resize_cooldown_nanos":  500_000_000.0,
			"retire_scan_multiple":   0.0,
		},
	}

	got := hc.parseConfig(data, hc.tuned)
	if got.ReprobeLimit != 20 {
		t.Errorf("expected ReprobeLimit 20, got %d", got.ReprobeLimit)
	}
	if got.MinCopyWork != 2048 {
		t.Errorf("expected MinCopyWork 2048, got %d", got.MinCopyWork)
	}
	if got.ResizeCooldownNanos != 500_000_000 {
		t.Errorf("expected ResizeCooldownNanos 500000000, got %d", got.ResizeCooldownNanos)
	}
	if got.RetireScanMultiple != 0 {
		t.Errorf("expected RetireScanMultiple 0, got %d", got.RetireScanMultiple)
	}
}

func TestHotConfig_ParseConfig_FlatSection(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	hc := &HotConfig{domain: dom}
	fallback := DomainTunables{ReprobeLimit: 5, MinCopyWork: 5, ResizeCooldownNanos: 5, RetireScanMultiple: 5}

	data := map[string]interface{}{
		"reprobe_limit": 12,
	}

	got := hc.parseConfig(data, fallback)
	if got.ReprobeLimit != 12 {
		t.Errorf("expected ReprobeLimit 12, got %d", got.ReprobeLimit)
	}
	if got.MinCopyWork != 5 {
		t.Errorf("expected unspecified fields to keep the fallback, got MinCopyWork=%d", got.MinCopyWork)
	}
}

func TestHotConfig_ParseConfig_IgnoresInvalidAndUnrelatedData(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	hc := &HotConfig{domain: dom}
	fallback := DomainTunables{ReprobeLimit: 7, MinCopyWork: 7, ResizeCooldownNanos: 7, RetireScanMultiple: 7}

	got := hc.parseConfig(map[string]interface{}{"unrelated": "data"}, fallback)
	if got != fallback {
		t.Errorf("expected fallback to be returned unchanged for unrelated data, got %+v", got)
	}
}

func TestHotConfig_ApplyChanges_UpdatesDomain(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	hc := &HotConfig{domain: dom}

	hc.applyChanges(DomainTunables{
		ReprobeLimit:        15,
		MinCopyWork:         512,
		ResizeCooldownNanos: 2_000_000_000,
		RetireScanMultiple:  3,
	})

	if dom.ReprobeLimit() != 15 {
		t.Errorf("expected ReprobeLimit 15, got %d", dom.ReprobeLimit())
	}
	if dom.MinCopyWork() != 512 {
		t.Errorf("expected MinCopyWork 512, got %d", dom.MinCopyWork())
	}
	if dom.ResizeCooldownNanos() != 2_000_000_000 {
		t.Errorf("expected ResizeCooldownNanos 2000000000, got %d", dom.ResizeCooldownNanos())
	}
	if dom.RetireScanMultiple() != 3 {
		t.Errorf("expected RetireScanMultiple 3, got %d", dom.RetireScanMultiple())
	}
}

func TestHotConfig_HandleConfigChange_FiresOnReload(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	var oldSeen, newSeen DomainTunables
	fired := false

	hc := &HotConfig{
		domain: dom,
		tuned: DomainTunables{
			ReprobeLimit:        DefaultReprobeLimit,
			MinCopyWork:         DefaultMinCopyWork,
			ResizeCooldownNanos: DefaultResizeCooldown,
			RetireScanMultiple:  DefaultRetireScanMultiple,
		},
		OnReload: func(old, new DomainTunables) {
			fired = true
			oldSeen = old
			newSeen = new
		},
	}

	hc.handleConfigChange(map[string]interface{}{
		"talos": map[string]interface{}{"reprobe_limit": 42},
	})

	if !fired {
		t.Fatal("expected OnReload to fire")
	}
	if oldSeen.ReprobeLimit != DefaultReprobeLimit {
		t.Errorf("expected old ReprobeLimit %d, got %d", DefaultReprobeLimit, oldSeen.ReprobeLimit)
	}
	if newSeen.ReprobeLimit != 42 {
		t.Errorf("expected new ReprobeLimit 42, got %d", newSeen.ReprobeLimit)
	}
	if dom.ReprobeLimit() != 42 {
		t.Errorf("expected the domain itself to be updated, got %d", dom.ReprobeLimit())
	}
}

func TestNewHotConfig_RequiresConfigPath(t *testing.T) {
	dom := NewDomain(DefaultConfig())
	if _, err := NewHotConfig(dom, HotConfigOptions{}); err == nil {
		t.Fatal("expected an error when ConfigPath is empty")
	}
}
