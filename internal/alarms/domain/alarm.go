package alarms

import (
	"crypto/sha1"
	"encoding/hex"
	"time"

	"waterwatch/internal/shifts"
)

// AlarmEvent is one open-to-closed violation lifecycle for a threshold.
// At most one event is open per (threshold ref, window) at a time.
type AlarmEvent struct {
	ID             string      `json:"id"`
	ThresholdRef   string      `json:"threshold_ref"`
	TagID          string      `json:"tag_id"`
	ObservedValue  float64     `json:"observed_value"`
	WindowKind     shifts.Kind `json:"window_kind"`
	WindowStart    time.Time   `json:"window_start"`
	WindowEnd      time.Time   `json:"window_end"`
	Severity       Severity    `json:"severity"`
	Message        string      `json:"message"`
	OpenedAt       time.Time   `json:"opened_at"`
	AcknowledgedAt time.Time   `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string      `json:"acknowledged_by,omitempty"`
	ClosedAt       time.Time   `json:"closed_at,omitempty"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// Open reports whether the event is still open.
func (a AlarmEvent) Open() bool {
	return a.ClosedAt.IsZero()
}

// Acknowledged reports whether an operator acknowledged the event.
func (a AlarmEvent) Acknowledged() bool {
	return !a.AcknowledgedAt.IsZero()
}

// BuildAlarmID derives a deterministic event id so a restart that
// replays the same transition never mints a second identity.
func BuildAlarmID(ref string, windowStart, openedAt time.Time) string {
	sum := sha1.Sum([]byte(ref + "|" + windowStart.UTC().Format(time.RFC3339) + "|" + openedAt.UTC().Format(time.RFC3339Nano)))
	return "alarm-" + hex.EncodeToString(sum[:8])
}

// Delivery results.
const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliverySkipped = "skipped"
)

// DeliveryRecord is one notification attempt for one contact.
// Append-only.
type DeliveryRecord struct {
	ID                string    `json:"id"`
	AlarmEventID      string    `json:"alarm_event_id"`
	MSISDN            string    `json:"msisdn"`
	SentAt            time.Time `json:"sent_at"`
	Result            string    `json:"result"`
	Attempts          int       `json:"attempts"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	DeliveredAt       time.Time `json:"delivered_at,omitempty"`
	Error             string    `json:"error,omitempty"`
}
