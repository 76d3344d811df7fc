package reports

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Default schedule: a few minutes after the night shift closes, so the
// previous day's windows are complete.
const (
	DefaultRunHour   = 7
	DefaultRunMinute = 5
)

// Scheduler generates the previous day's report once per day and
// writes the artifacts to an output directory.
type Scheduler struct {
	service   *Service
	outputDir string
	loc       *time.Location
	runHour   int
	runMinute int
	clock     Clock
	logger    *log.Logger
	onDone    func(date time.Time, paths []string)
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*Scheduler)

// WithRunAt sets the local wall-clock run time.
func WithRunAt(hour, minute int) SchedulerOption {
	return func(s *Scheduler) {
		if hour >= 0 && hour < 24 && minute >= 0 && minute < 60 {
			s.runHour = hour
			s.runMinute = minute
		}
	}
}

// WithSchedulerClock assigns a clock.
func WithSchedulerClock(clock Clock) SchedulerOption {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithSchedulerLogger assigns a logger.
func WithSchedulerLogger(logger *log.Logger) SchedulerOption {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithOnDone registers a completion hook (audit trail).
func WithOnDone(hook func(date time.Time, paths []string)) SchedulerOption {
	return func(s *Scheduler) {
		s.onDone = hook
	}
}

// NewScheduler constructs a scheduler.
func NewScheduler(service *Service, outputDir string, loc *time.Location, opts ...SchedulerOption) (*Scheduler, error) {
	if service == nil {
		return nil, errors.New("reports: nil service")
	}
	if outputDir == "" {
		return nil, errors.New("reports: empty output dir")
	}
	if loc == nil {
		loc = time.Local
	}
	scheduler := &Scheduler{
		service:   service,
		outputDir: outputDir,
		loc:       loc,
		runHour:   DefaultRunHour,
		runMinute: DefaultRunMinute,
		clock:     systemClock{},
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler, nil
}

// Run blocks until ctx is canceled, generating one report per day.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.nextRun(s.clock.Now().In(s.loc))
		timer := time.NewTimer(next.Sub(s.clock.Now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		if err := s.RunOnce(ctx, next.AddDate(0, 0, -1)); err != nil && s.logger != nil {
			s.logger.Printf("daily report failed date=%s err=%v", next.AddDate(0, 0, -1).Format("2006-01-02"), err)
		}
	}
}

// RunOnce generates and stores the report for one date.
func (s *Scheduler) RunOnce(ctx context.Context, date time.Time) error {
	report, err := s.service.BuildDaily(ctx, date.In(s.loc))
	if err != nil {
		return err
	}
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return err
	}

	stamp := report.Date.Format("2006-01-02")
	var paths []string
	pdf, err := BuildDailyPDF(report)
	if err != nil {
		return err
	}
	pdfPath := filepath.Join(s.outputDir, "usage-"+stamp+".pdf")
	if err := os.WriteFile(pdfPath, pdf, 0o644); err != nil {
		return err
	}
	paths = append(paths, pdfPath)

	xlsx, err := BuildDailyXLSX(report)
	if err != nil {
		return err
	}
	xlsxPath := filepath.Join(s.outputDir, "usage-"+stamp+".xlsx")
	if err := os.WriteFile(xlsxPath, xlsx, 0o644); err != nil {
		return err
	}
	paths = append(paths, xlsxPath)

	if s.logger != nil {
		s.logger.Printf("daily report written date=%s rows=%d alarms=%d", stamp, len(report.Rows), len(report.Alarms))
	}
	if s.onDone != nil {
		s.onDone(report.Date, paths)
	}
	return nil
}

func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.runHour, s.runMinute, 0, 0, s.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
