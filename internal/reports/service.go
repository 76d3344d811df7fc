package reports

import (
	"context"
	"errors"
	"log"
	"sort"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/config"
	"waterwatch/internal/delta"
	"waterwatch/internal/shifts"
)

// ShiftUsage is one shift total within a daily report row.
type ShiftUsage struct {
	Label      string           `json:"label"`
	Name       string           `json:"name"`
	Value      float64          `json:"value"`
	Confidence delta.Confidence `json:"confidence"`
}

// UsageRow is one metered tag's usage for the report day.
type UsageRow struct {
	TagID       string           `json:"tag_id"`
	Description string           `json:"description,omitempty"`
	Line        string           `json:"line,omitempty"`
	Unit        string           `json:"unit"`
	Shifts      []ShiftUsage     `json:"shifts"`
	DayTotal    float64          `json:"day_total"`
	Confidence  delta.Confidence `json:"confidence"`
}

// DailyReport is the daily usage report with the day's alarm log.
type DailyReport struct {
	Date           time.Time           `json:"date"`
	GeneratedAt    time.Time           `json:"generated_at"`
	MappingVersion string              `json:"mapping_version,omitempty"`
	Rows           []UsageRow          `json:"rows"`
	Alarms         []alarms.AlarmEvent `json:"alarms"`
}

// SampleSource reads window boundary samples from the historian.
type SampleSource interface {
	WindowSamples(ctx context.Context, tag string, window shifts.Window, now time.Time) (delta.Sample, delta.Sample, bool, error)
}

// AlarmLog reads the alarm history for the report day.
type AlarmLog interface {
	ListByStatusAndTime(ctx context.Context, status string, from, to time.Time) ([]alarms.AlarmEvent, error)
}

// Settings supplies the current monitoring config snapshot.
type Settings interface {
	Snapshot() *config.Snapshot
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Service assembles daily usage reports.
type Service struct {
	samples  SampleSource
	engine   *delta.Engine
	alarmLog AlarmLog
	settings Settings
	loc      *time.Location
	clock    Clock
	logger   *log.Logger
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithClock assigns a clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a report service.
func NewService(samples SampleSource, engine *delta.Engine, alarmLog AlarmLog, settings Settings, loc *time.Location, opts ...ServiceOption) (*Service, error) {
	if samples == nil {
		return nil, errors.New("reports: nil sample source")
	}
	if engine == nil {
		return nil, errors.New("reports: nil delta engine")
	}
	if alarmLog == nil {
		return nil, errors.New("reports: nil alarm log")
	}
	if settings == nil {
		return nil, errors.New("reports: nil settings")
	}
	if loc == nil {
		loc = time.Local
	}
	service := &Service{
		samples:  samples,
		engine:   engine,
		alarmLog: alarmLog,
		settings: settings,
		loc:      loc,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// BuildDaily assembles the usage report for one calendar date. Tags
// with no samples in a window report a zero shift total rather than
// failing the whole report.
func (s *Service) BuildDaily(ctx context.Context, date time.Time) (*DailyReport, error) {
	if s == nil {
		return nil, errors.New("reports: nil service")
	}
	noon := time.Date(date.Year(), date.Month(), date.Day(), 12, 0, 0, 0, s.loc)
	dayWindow := shifts.DayAt(noon, s.loc)
	shiftWindows := shifts.ShiftsForDay(noon, s.loc)
	now := s.clock.Now().In(s.loc)

	snapshot := s.settings.Snapshot()
	mapping := snapshot.Mapping()
	names := mapping.Names()
	sort.Strings(names)

	report := &DailyReport{
		Date:           dayWindow.Start,
		GeneratedAt:    now,
		MappingVersion: mapping.Version(),
	}

	for _, name := range names {
		row := UsageRow{TagID: name, Unit: "L"}
		if tag, ok := snapshot.Tag(name); ok {
			row.Description = tag.Description
			row.Line = tag.Line
			if tag.Unit != "" {
				row.Unit = tag.Unit
			}
		}
		for _, window := range shiftWindows {
			usage := ShiftUsage{Label: window.Label(), Name: window.Name}
			d, ok := s.computeWindow(ctx, name, window, now)
			if ok {
				usage.Value = d.Value
				usage.Confidence = d.Confidence
			}
			row.Shifts = append(row.Shifts, usage)
		}
		if d, ok := s.computeWindow(ctx, name, dayWindow, now); ok {
			row.DayTotal = d.Value
			row.Confidence = d.Confidence
		}
		report.Rows = append(report.Rows, row)
	}

	events, err := s.alarmLog.ListByStatusAndTime(ctx, "", dayWindow.Start, dayWindow.End)
	if err != nil {
		return nil, err
	}
	report.Alarms = events
	return report, nil
}

func (s *Service) computeWindow(ctx context.Context, tag string, window shifts.Window, now time.Time) (delta.Delta, bool) {
	start, end, ok, err := s.samples.WindowSamples(ctx, tag, window, now)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("report sample fetch failed tag=%s window=%s err=%v", tag, window.Label(), err)
		}
		return delta.Delta{}, false
	}
	if !ok {
		return delta.Delta{}, false
	}
	d := s.engine.Compute(window, start, end)
	if !d.Accepted() {
		return delta.Delta{}, false
	}
	return d, true
}
