package application

import (
	"sort"
	"sync"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/delta"
)

// LineOrder is the fixed grouping order for the dashboard payload.
var LineOrder = []string{"PC Line", "CK Line", "TC Line", "EP Line", "Utilities", "Test"}

const lineOther = "Other"

// RefStatus is the live view of one threshold.
type RefStatus struct {
	Ref           string           `json:"ref"`
	TagID         string           `json:"tag_id"`
	Description   string           `json:"description,omitempty"`
	Line          string           `json:"line,omitempty"`
	Unit          string           `json:"unit,omitempty"`
	Target        alarms.Target    `json:"target"`
	Severity      alarms.Severity  `json:"severity"`
	LimitValue    float64          `json:"limit_value"`
	Verdict       alarms.Verdict   `json:"verdict"`
	LastValue     float64          `json:"last_value"`
	Confidence    delta.Confidence `json:"confidence,omitempty"`
	WindowLabel   string           `json:"window,omitempty"`
	Open          bool             `json:"open"`
	Acknowledged  bool             `json:"acknowledged"`
	AlarmID       string           `json:"alarm_id,omitempty"`
	Stale         bool             `json:"stale"`
	LastEvaluated time.Time        `json:"last_evaluated"`
}

// LineStatus groups refs under a production line.
type LineStatus struct {
	Line string      `json:"line"`
	Refs []RefStatus `json:"refs"`
}

// Snapshot is one read-only dashboard view.
type Snapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	Degraded    bool         `json:"degraded"`
	MappingVer  string       `json:"mapping_version,omitempty"`
	Lines       []LineStatus `json:"lines"`
}

// StatusBoard keeps the last evaluation per threshold for the dashboard
// collaborator. Read-only from the outside; only the dispatcher writes.
type StatusBoard struct {
	mu      sync.RWMutex
	entries map[string]RefStatus
}

// NewStatusBoard constructs a status board.
func NewStatusBoard() *StatusBoard {
	return &StatusBoard{entries: make(map[string]RefStatus)}
}

// Update records the latest evaluation of a threshold.
func (b *StatusBoard) Update(status RefStatus) {
	if b == nil || status.Ref == "" {
		return
	}
	b.mu.Lock()
	b.entries[status.Ref] = status
	b.mu.Unlock()
}

// MarkStale flags a ref whose data could not be evaluated this cycle.
func (b *StatusBoard) MarkStale(ref string, at time.Time) {
	if b == nil || ref == "" {
		return
	}
	b.mu.Lock()
	entry := b.entries[ref]
	entry.Ref = ref
	entry.Verdict = alarms.VerdictIndeterminate
	entry.Stale = true
	entry.LastEvaluated = at
	b.entries[ref] = entry
	b.mu.Unlock()
}

// Snapshot returns the current board grouped by line in fixed order.
func (b *StatusBoard) Snapshot(generatedAt time.Time, degraded bool, mappingVersion string) Snapshot {
	byLine := make(map[string][]RefStatus)
	b.mu.RLock()
	for _, entry := range b.entries {
		line := entry.Line
		if line == "" {
			line = lineOther
		}
		byLine[line] = append(byLine[line], entry)
	}
	b.mu.RUnlock()

	snapshot := Snapshot{
		GeneratedAt: generatedAt,
		Degraded:    degraded,
		MappingVer:  mappingVersion,
	}
	appendLine := func(line string) {
		refs, ok := byLine[line]
		if !ok {
			return
		}
		sort.Slice(refs, func(i, j int) bool { return refs[i].Ref < refs[j].Ref })
		snapshot.Lines = append(snapshot.Lines, LineStatus{Line: line, Refs: refs})
		delete(byLine, line)
	}
	for _, line := range LineOrder {
		appendLine(line)
	}
	// Anything not in the fixed order trails it.
	rest := make([]string, 0, len(byLine))
	for line := range byLine {
		rest = append(rest, line)
	}
	sort.Strings(rest)
	for _, line := range rest {
		appendLine(line)
	}
	return snapshot
}
