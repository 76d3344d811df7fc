// Package tagmap holds the versioned mapping from configured tag names
// to the historian's actual database tags. The mapping is built once
// when a config snapshot loads and is immutable afterwards; request
// handlers never mutate it.
package tagmap

import (
	"errors"
	"sort"
)

// Entry describes one configured tag.
type Entry struct {
	HistorianTag string `json:"historian_tag"`
	Description  string `json:"description"`
	Line         string `json:"line"`
	Unit         string `json:"unit"`
}

// Mapping is an immutable tag-name mapping.
type Mapping struct {
	version string
	entries map[string]Entry
}

// New builds a mapping, copying the entries.
func New(version string, entries map[string]Entry) (*Mapping, error) {
	if version == "" {
		return nil, errors.New("tagmap: empty version")
	}
	copied := make(map[string]Entry, len(entries))
	for name, entry := range entries {
		if name == "" {
			continue
		}
		if entry.HistorianTag == "" {
			entry.HistorianTag = name
		}
		if entry.Unit == "" {
			entry.Unit = "L"
		}
		copied[name] = entry
	}
	return &Mapping{version: version, entries: copied}, nil
}

// Version returns the mapping version string.
func (m *Mapping) Version() string {
	if m == nil {
		return ""
	}
	return m.version
}

// Resolve returns the entry for a configured tag name.
func (m *Mapping) Resolve(name string) (Entry, bool) {
	if m == nil {
		return Entry{}, false
	}
	entry, ok := m.entries[name]
	return entry, ok
}

// HistorianTag returns the database tag for a configured name, falling
// back to the name itself when unmapped.
func (m *Mapping) HistorianTag(name string) string {
	if entry, ok := m.Resolve(name); ok {
		return entry.HistorianTag
	}
	return name
}

// Names returns all configured tag names in sorted order.
func (m *Mapping) Names() []string {
	if m == nil {
		return nil
	}
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of mapped tags.
func (m *Mapping) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}
