// Package config loads the facility monitoring configuration from a
// YAML file into an immutable snapshot. Reload builds a complete new
// snapshot off the hot path and swaps it atomically so a poll cycle
// never evaluates against half-updated settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"waterwatch/internal/delta"
	"waterwatch/internal/tagmap"
)

// CounterDefaults applies to tags without their own counter sizing.
type CounterDefaults struct {
	Capacity         float64 `yaml:"capacity"`
	RolloverFraction float64 `yaml:"rollover_fraction"`
}

// TagConfig describes one monitored totalizer tag.
type TagConfig struct {
	HistorianTag     string  `yaml:"historian_tag"`
	Description      string  `yaml:"description"`
	Line             string  `yaml:"line"`
	Unit             string  `yaml:"unit"`
	Capacity         float64 `yaml:"capacity"`
	RolloverFraction float64 `yaml:"rollover_fraction"`
}

// GroupRule routes threshold refs to a contact group by substring.
type GroupRule struct {
	Group    string   `yaml:"group"`
	Patterns []string `yaml:"patterns"`
}

// CooldownMinutes suppresses re-notification per severity.
type CooldownMinutes struct {
	Warning  int `yaml:"warning"`
	Critical int `yaml:"critical"`
}

// For returns the cooldown for a severity string.
func (c CooldownMinutes) For(severity string) time.Duration {
	if strings.EqualFold(severity, "critical") {
		return time.Duration(c.Critical) * time.Minute
	}
	return time.Duration(c.Warning) * time.Minute
}

// Snapshot is one immutable view of the monitor configuration.
type Snapshot struct {
	Defaults       CounterDefaults      `yaml:"defaults"`
	SanityFactor   float64              `yaml:"sanity_factor"`
	Cooldowns      CooldownMinutes      `yaml:"cooldown_minutes"`
	NotifyCleared  bool                 `yaml:"notify_cleared"`
	TestMode       bool                 `yaml:"test_mode"`
	TestNumbers    []string             `yaml:"test_numbers"`
	MappingVersion string               `yaml:"mapping_version"`
	Tags           map[string]TagConfig `yaml:"tags"`
	Groups         []GroupRule          `yaml:"groups"`
	DefaultGroup   string               `yaml:"default_group"`

	mapping *tagmap.Mapping
}

func defaultSnapshot() Snapshot {
	return Snapshot{
		Defaults: CounterDefaults{
			Capacity:         delta.DefaultCapacity,
			RolloverFraction: delta.DefaultRolloverFraction,
		},
		SanityFactor:   1000,
		Cooldowns:      CooldownMinutes{Warning: 15, Critical: 30},
		MappingVersion: "unversioned",
		DefaultGroup:   "operations",
	}
}

func (s *Snapshot) finish() error {
	if s.SanityFactor <= 1 {
		return errors.New("config: sanity_factor must be > 1")
	}
	if s.Defaults.Capacity <= 0 {
		return errors.New("config: defaults.capacity must be positive")
	}
	if s.Cooldowns.Warning < 0 || s.Cooldowns.Critical < 0 {
		return errors.New("config: negative cooldown")
	}
	if s.DefaultGroup == "" {
		s.DefaultGroup = "operations"
	}
	entries := make(map[string]tagmap.Entry, len(s.Tags))
	for name, tag := range s.Tags {
		entries[name] = tagmap.Entry{
			HistorianTag: tag.HistorianTag,
			Description:  tag.Description,
			Line:         tag.Line,
			Unit:         tag.Unit,
		}
	}
	mapping, err := tagmap.New(s.MappingVersion, entries)
	if err != nil {
		return err
	}
	s.mapping = mapping
	return nil
}

// CounterSpec resolves counter sizing for a tag, falling back to the
// configured defaults.
func (s *Snapshot) CounterSpec(tag string) delta.CounterSpec {
	spec := delta.CounterSpec{
		Capacity:         s.Defaults.Capacity,
		RolloverFraction: s.Defaults.RolloverFraction,
	}
	if tagCfg, ok := s.Tags[tag]; ok {
		if tagCfg.Capacity > 0 {
			spec.Capacity = tagCfg.Capacity
		}
		if tagCfg.RolloverFraction > 0 {
			spec.RolloverFraction = tagCfg.RolloverFraction
		}
	}
	return spec
}

// GroupFor resolves the contact group for a threshold ref and tag.
// The first group rule whose pattern occurs in either wins.
func (s *Snapshot) GroupFor(ref, tag string) string {
	for _, rule := range s.Groups {
		for _, pattern := range rule.Patterns {
			if pattern == "" {
				continue
			}
			if strings.Contains(ref, pattern) || strings.Contains(tag, pattern) {
				return rule.Group
			}
		}
	}
	return s.DefaultGroup
}

// Tag returns the tag config with defaults applied.
func (s *Snapshot) Tag(name string) (TagConfig, bool) {
	tag, ok := s.Tags[name]
	if !ok {
		return TagConfig{}, false
	}
	if tag.HistorianTag == "" {
		tag.HistorianTag = name
	}
	if tag.Unit == "" {
		tag.Unit = "L"
	}
	return tag, true
}

// Mapping returns the tag mapping built with this snapshot.
func (s *Snapshot) Mapping() *tagmap.Mapping {
	return s.mapping
}

// ParseSnapshot decodes YAML into a validated snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	snapshot := defaultSnapshot()
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := snapshot.finish(); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// LoadSnapshot reads and parses a config file. An empty path yields the
// built-in defaults with no tags.
func LoadSnapshot(path string) (*Snapshot, error) {
	if path == "" {
		snapshot := defaultSnapshot()
		if err := snapshot.finish(); err != nil {
			return nil, err
		}
		return &snapshot, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return ParseSnapshot(data)
}
