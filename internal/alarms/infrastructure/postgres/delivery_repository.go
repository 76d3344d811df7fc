package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/eventing"
)

// DeliveryRepository is a Postgres store for the append-only SMS
// delivery log.
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository constructs a repository.
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Create appends a delivery record. A missing id is assigned.
func (r *DeliveryRepository) Create(ctx context.Context, record *alarms.DeliveryRecord) error {
	if r == nil || r.db == nil {
		return errors.New("delivery repo: nil db")
	}
	if record == nil {
		return errors.New("delivery repo: nil record")
	}
	if record.AlarmEventID == "" {
		return errors.New("delivery repo: empty alarm event id")
	}
	if record.ID == "" {
		record.ID = eventing.NewEventID()
	}
	if record.SentAt.IsZero() {
		record.SentAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO delivery_records (
	id, alarm_event_id, msisdn, sent_at, result, attempts, provider_message_id, error
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`,
		record.ID, record.AlarmEventID, record.MSISDN, record.SentAt.UTC(),
		record.Result, record.Attempts, nullString(record.ProviderMessageID), nullString(record.Error))
	return err
}

// MarkDelivered records a provider delivery receipt by provider
// message id. Unknown ids are ignored.
func (r *DeliveryRepository) MarkDelivered(ctx context.Context, providerMessageID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("delivery repo: nil db")
	}
	if providerMessageID == "" {
		return errors.New("delivery repo: empty provider message id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE delivery_records SET delivered_at = $2
WHERE provider_message_id = $1 AND delivered_at IS NULL`, providerMessageID, at.UTC())
	return err
}

// ListByAlarm returns the delivery log for one alarm event.
func (r *DeliveryRepository) ListByAlarm(ctx context.Context, alarmEventID string) ([]alarms.DeliveryRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("delivery repo: nil db")
	}
	if alarmEventID == "" {
		return nil, errors.New("delivery repo: empty alarm event id")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, alarm_event_id, msisdn, sent_at, result, attempts, provider_message_id, delivered_at, error
FROM delivery_records
WHERE alarm_event_id = $1
ORDER BY sent_at ASC`, alarmEventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []alarms.DeliveryRecord
	for rows.Next() {
		var record alarms.DeliveryRecord
		var providerID, sendErr sql.NullString
		var deliveredAt sql.NullTime
		if err := rows.Scan(
			&record.ID,
			&record.AlarmEventID,
			&record.MSISDN,
			&record.SentAt,
			&record.Result,
			&record.Attempts,
			&providerID,
			&deliveredAt,
			&sendErr,
		); err != nil {
			return nil, err
		}
		record.SentAt = record.SentAt.UTC()
		if providerID.Valid {
			record.ProviderMessageID = providerID.String
		}
		if deliveredAt.Valid {
			record.DeliveredAt = deliveredAt.Time.UTC()
		}
		if sendErr.Valid {
			record.Error = sendErr.String
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
