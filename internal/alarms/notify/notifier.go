package notify

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/observability/metrics"
)

// ContactSource lists the current contact roster.
type ContactSource interface {
	ListEnabled(ctx context.Context) ([]alarms.Contact, error)
}

// DeliveryWriter appends delivery records.
type DeliveryWriter interface {
	Create(ctx context.Context, record *alarms.DeliveryRecord) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 500 * time.Millisecond
)

// Notifier routes an alarm to its on-call contacts and sends one SMS
// per contact. Sends are independent: one failing contact never blocks
// the others. Transient transport failures are retried with bounded
// exponential backoff; every attempt chain ends in exactly one
// DeliveryRecord per contact.
type Notifier struct {
	transport   Transport
	contacts    ContactSource
	deliveries  DeliveryWriter
	settings    Settings
	loc         *time.Location
	clock       Clock
	logger      *log.Logger
	maxAttempts int
	backoffBase time.Duration
	sleep       func(ctx context.Context, d time.Duration) bool
}

// waitOrDone blocks for the retry delay, bailing out early when the
// cycle context is cancelled. Returns false on cancellation.
func waitOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithLogger assigns a logger.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMaxAttempts bounds retries per contact.
func WithMaxAttempts(attempts int) Option {
	return func(n *Notifier) {
		if attempts > 0 {
			n.maxAttempts = attempts
		}
	}
}

// WithBackoffBase sets the first retry delay.
func WithBackoffBase(base time.Duration) Option {
	return func(n *Notifier) {
		if base > 0 {
			n.backoffBase = base
		}
	}
}

// WithSleep overrides the retry sleeper (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration) bool) Option {
	return func(n *Notifier) {
		if sleep != nil {
			n.sleep = sleep
		}
	}
}

// NewNotifier constructs a notifier.
func NewNotifier(transport Transport, contacts ContactSource, deliveries DeliveryWriter, settings Settings, loc *time.Location, opts ...Option) (*Notifier, error) {
	if transport == nil {
		return nil, errors.New("notifier: nil transport")
	}
	if contacts == nil {
		return nil, errors.New("notifier: nil contact source")
	}
	if deliveries == nil {
		return nil, errors.New("notifier: nil delivery writer")
	}
	if settings == nil {
		return nil, errors.New("notifier: nil settings")
	}
	if loc == nil {
		loc = time.Local
	}
	notifier := &Notifier{
		transport:   transport,
		contacts:    contacts,
		deliveries:  deliveries,
		settings:    settings,
		loc:         loc,
		clock:       systemClock{},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		sleep:       waitOrDone,
	}
	for _, opt := range opts {
		opt(notifier)
	}
	return notifier, nil
}

// NotifyAlarm implements the dispatcher's Notifier. cleared selects the
// "cleared" wording over the open message.
func (n *Notifier) NotifyAlarm(ctx context.Context, event alarms.AlarmEvent, rule alarms.ThresholdRule, cleared bool) {
	if n == nil {
		return
	}
	message := event.Message
	if cleared {
		message = "RESOLVED: " + message
	}
	if message == "" {
		return
	}

	recipients := n.recipients(ctx, rule)
	if len(recipients) == 0 {
		if n.logger != nil {
			n.logger.Printf("no recipients ref=%s group=%s", rule.Ref, n.groupFor(rule))
		}
		return
	}

	var wg sync.WaitGroup
	for _, msisdn := range recipients {
		wg.Add(1)
		go func(msisdn string) {
			defer wg.Done()
			n.sendOne(ctx, event.ID, msisdn, message)
		}(msisdn)
	}
	wg.Wait()
}

func (n *Notifier) groupFor(rule alarms.ThresholdRule) string {
	if rule.Group != "" {
		return rule.Group
	}
	return n.settings.Snapshot().GroupFor(rule.Ref, rule.TagID)
}

// recipients resolves the MSISDNs to notify. Test mode routes every
// message to the configured test numbers instead of the roster.
func (n *Notifier) recipients(ctx context.Context, rule alarms.ThresholdRule) []string {
	snapshot := n.settings.Snapshot()
	if snapshot.TestMode {
		if n.logger != nil {
			n.logger.Printf("test mode routing ref=%s numbers=%d", rule.Ref, len(snapshot.TestNumbers))
		}
		return snapshot.TestNumbers
	}

	roster, err := n.contacts.ListEnabled(ctx)
	if err != nil {
		if n.logger != nil {
			n.logger.Printf("contact roster unavailable ref=%s err=%v", rule.Ref, err)
		}
		return nil
	}
	now := n.clock.Now().In(n.loc)
	routed := Route(n.groupFor(rule), roster, now, n.logger)
	msisdns := make([]string, 0, len(routed))
	for _, contact := range routed {
		msisdns = append(msisdns, contact.MSISDN)
	}
	return msisdns
}

func (n *Notifier) sendOne(ctx context.Context, alarmEventID, msisdn, message string) {
	record := alarms.DeliveryRecord{
		AlarmEventID: alarmEventID,
		MSISDN:       msisdn,
	}

	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		record.Attempts = attempt
		receipt, err := n.transport.Send(ctx, msisdn, message)
		if err == nil {
			if receipt.Accepted {
				record.Result = alarms.DeliverySent
				record.ProviderMessageID = receipt.ProviderMessageID
			} else {
				// Provider rejection is permanent; no retry.
				record.Result = alarms.DeliveryFailed
				record.Error = receipt.Error
			}
			lastErr = nil
			break
		}
		lastErr = err
		if n.logger != nil {
			n.logger.Printf("sms attempt failed msisdn=%s attempt=%d err=%v", msisdn, attempt, err)
		}
		if attempt < n.maxAttempts {
			if !n.sleep(ctx, n.backoffBase<<(attempt-1)) {
				// Cancelled mid-backoff: give up on the remaining retries.
				break
			}
		}
	}
	if lastErr != nil {
		record.Result = alarms.DeliveryFailed
		record.Error = lastErr.Error()
	}

	record.SentAt = n.clock.Now().UTC()
	metrics.IncSMSAttempt(record.Result)
	if n.logger != nil {
		n.logger.Printf("sms %s msisdn=%s alarm=%s attempts=%d", record.Result, msisdn, alarmEventID, record.Attempts)
	}
	if err := n.deliveries.Create(ctx, &record); err != nil && n.logger != nil {
		n.logger.Printf("delivery record write failed alarm=%s msisdn=%s err=%v", alarmEventID, msisdn, err)
	}
}
