// Package eventing is the in-process publish/subscribe fabric for
// alarm lifecycle and data-quality events. Delivery is synchronous and
// panic-isolated per subscriber.
package eventing

import (
	"encoding/json"
	"errors"
	"time"
)

// Event kinds published by the engine.
const (
	KindAlarmOpened        = "alarm.opened"
	KindAlarmCleared       = "alarm.cleared"
	KindAlarmAcknowledged  = "alarm.acknowledged"
	KindDataQualityFlagged = "data_quality.flagged"
)

// Envelope wraps an event payload with metadata.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	At      time.Time       `json:"at"`
	Payload json.RawMessage `json:"payload"`
}

// BuildEnvelope constructs an envelope from a payload value.
func BuildEnvelope(kind string, at time.Time, payload any) (Envelope, error) {
	if kind == "" {
		return Envelope{}, errors.New("eventing: empty kind")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	return Envelope{
		ID:      NewEventID(),
		Kind:    kind,
		At:      at.UTC(),
		Payload: data,
	}, nil
}
