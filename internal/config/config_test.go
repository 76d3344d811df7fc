package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"waterwatch/internal/delta"
)

const sampleYAML = `
mapping_version: "2026-03"
sanity_factor: 500
notify_cleared: true
test_mode: true
test_numbers:
  - "+27110000001"
cooldown_minutes:
  warning: 10
  critical: 20
defaults:
  capacity: 4294967295
  rollover_fraction: 0.85
default_group: operations
groups:
  - group: "PC and CK"
    patterns: ["PC", "CK", "FT51"]
  - group: "TC and Ext"
    patterns: ["TC", "FT41"]
tags:
  PC_Line_Total:
    historian_tag: "PLANT.PC.FT51.TOTAL"
    description: "PC line totalizer"
    line: "PC Line"
    unit: "L"
    capacity: 16777215
  CK_Line_Total:
    description: "CK line totalizer"
    line: "CK Line"
`

func TestParseSnapshot(t *testing.T) {
	snapshot, err := ParseSnapshot([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if snapshot.SanityFactor != 500 {
		t.Fatalf("sanity factor not applied: %v", snapshot.SanityFactor)
	}
	if got := snapshot.Cooldowns.For("warning"); got != 10*time.Minute {
		t.Fatalf("warning cooldown %v", got)
	}
	if got := snapshot.Cooldowns.For("CRITICAL"); got != 20*time.Minute {
		t.Fatalf("critical cooldown %v", got)
	}
	if !snapshot.NotifyCleared || !snapshot.TestMode {
		t.Fatal("boolean flags not parsed")
	}

	spec := snapshot.CounterSpec("PC_Line_Total")
	if spec.Capacity != 16777215 {
		t.Fatalf("per-tag capacity not applied: %v", spec.Capacity)
	}
	if spec.RolloverFraction != 0.85 {
		t.Fatalf("default rollover not inherited: %v", spec.RolloverFraction)
	}
	spec = snapshot.CounterSpec("Unknown_Tag")
	if spec.Capacity != 4294967295 {
		t.Fatalf("defaults not applied to unknown tag: %v", spec.Capacity)
	}
}

func TestSnapshotMapping(t *testing.T) {
	snapshot, err := ParseSnapshot([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mapping := snapshot.Mapping()
	if mapping.Version() != "2026-03" {
		t.Fatalf("mapping version %q", mapping.Version())
	}
	if got := mapping.HistorianTag("PC_Line_Total"); got != "PLANT.PC.FT51.TOTAL" {
		t.Fatalf("historian tag %q", got)
	}
	// A tag with no historian alias maps to itself.
	if got := mapping.HistorianTag("CK_Line_Total"); got != "CK_Line_Total" {
		t.Fatalf("self mapping broken: %q", got)
	}
}

func TestGroupFor(t *testing.T) {
	snapshot, err := ParseSnapshot([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := snapshot.GroupFor("pc-line-day", "PC_Line_Total"); got != "PC and CK" {
		t.Fatalf("group %q", got)
	}
	if got := snapshot.GroupFor("misc", "TC_Ext_Total"); got != "TC and Ext" {
		t.Fatalf("group %q", got)
	}
	if got := snapshot.GroupFor("misc", "Boiler_Total"); got != "operations" {
		t.Fatalf("fallback group %q", got)
	}
}

func TestLoadSnapshotDefaults(t *testing.T) {
	snapshot, err := LoadSnapshot("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if snapshot.SanityFactor != 1000 {
		t.Fatalf("default sanity factor %v", snapshot.SanityFactor)
	}
	if snapshot.Cooldowns.Warning != 15 || snapshot.Cooldowns.Critical != 30 {
		t.Fatalf("default cooldowns %+v", snapshot.Cooldowns)
	}
	if snapshot.Defaults.Capacity != delta.DefaultCapacity {
		t.Fatalf("default capacity %v", snapshot.Defaults.Capacity)
	}
}

func TestParseSnapshotRejectsBadValues(t *testing.T) {
	if _, err := ParseSnapshot([]byte("sanity_factor: 0.5\n")); err == nil {
		t.Fatal("sanity factor <= 1 must be rejected")
	}
	if _, err := ParseSnapshot([]byte("cooldown_minutes:\n  warning: -1\n")); err == nil {
		t.Fatal("negative cooldown must be rejected")
	}
}

func TestStoreReloadKeepsOldSnapshotOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "monitoring.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	before := store.Snapshot()

	if err := os.WriteFile(path, []byte("sanity_factor: 0\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Reload(); err == nil {
		t.Fatal("invalid reload must fail")
	}
	if store.Snapshot() != before {
		t.Fatal("failed reload must keep the previous snapshot")
	}

	updated := strings.Replace(sampleYAML, "sanity_factor: 500", "sanity_factor: 750", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := store.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if store.Snapshot().SanityFactor != 750 {
		t.Fatalf("reload not applied: %v", store.Snapshot().SanityFactor)
	}
}
