package notify

import (
	"strconv"
	"strings"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/config"
	"waterwatch/internal/delta"
)

// DefaultTemplate mirrors the facility's established SMS shape, e.g.
// "[CRITICAL] PC Line: Flow FT51 day usage 120001 L >= 100000 L (00:00-24:00)".
const DefaultTemplate = "[{severity}] {line}: {tag_description} {target} usage {value} {unit} {op} {limit} {unit} ({window})"

// MessageData holds the placeholder values for one notification.
type MessageData struct {
	Severity       string
	Line           string
	Tag            string
	TagDescription string
	Target         string
	Value          string
	Unit           string
	Op             string
	Limit          string
	Window         string
}

// RenderTemplate fills {placeholder} fields into the template text.
func RenderTemplate(text string, data MessageData) string {
	if text == "" {
		text = DefaultTemplate
	}
	replacer := strings.NewReplacer(
		"{severity}", data.Severity,
		"{line}", data.Line,
		"{tag}", data.Tag,
		"{tag_description}", data.TagDescription,
		"{tag_desc}", data.TagDescription,
		"{target}", data.Target,
		"{value}", data.Value,
		"{unit}", data.Unit,
		"{op}", data.Op,
		"{limit}", data.Limit,
		"{window}", data.Window,
	)
	return strings.TrimSpace(replacer.Replace(text))
}

// Renderer builds notification text for a rule violation, resolving
// tag metadata from the config snapshot. A rule's own template wins
// over the default.
type Renderer struct {
	settings Settings
}

// NewRenderer constructs a renderer.
func NewRenderer(settings Settings) *Renderer {
	return &Renderer{settings: settings}
}

// Render builds the message for a violated rule.
func (r *Renderer) Render(rule alarms.ThresholdRule, d delta.Delta) string {
	data := MessageData{
		Severity: strings.ToUpper(string(rule.Severity)),
		Tag:      rule.TagID,
		Target:   targetWord(rule.Target),
		Value:    formatValue(d.Value),
		Unit:     rule.Unit,
		Op:       string(rule.Operator),
		Limit:    formatValue(rule.LimitValue),
		Window:   d.Window.Label(),
	}
	if r != nil && r.settings != nil {
		if tag, ok := r.settings.Snapshot().Tag(rule.TagID); ok {
			data.Line = tag.Line
			data.TagDescription = tag.Description
			if data.Unit == "" {
				data.Unit = tag.Unit
			}
		}
	}
	if data.TagDescription == "" {
		data.TagDescription = rule.TagID
	}
	if data.Unit == "" {
		data.Unit = "L"
	}
	return RenderTemplate(rule.MessageTemplate, data)
}

func targetWord(target alarms.Target) string {
	switch target {
	case alarms.TargetDayTotal:
		return "day"
	case alarms.TargetShiftTotal:
		return "shift"
	default:
		return "current"
	}
}

func formatValue(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// Settings supplies the current monitoring config snapshot.
type Settings interface {
	Snapshot() *config.Snapshot
}
