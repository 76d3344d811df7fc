package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	alarms "waterwatch/internal/alarms/domain"
	"waterwatch/internal/shifts"
)

// AlarmEventRepository is a Postgres record store for alarm events.
type AlarmEventRepository struct {
	db *sql.DB
}

// NewAlarmEventRepository constructs a repository.
func NewAlarmEventRepository(db *sql.DB) *AlarmEventRepository {
	return &AlarmEventRepository{db: db}
}

// Create inserts an alarm event.
func (r *AlarmEventRepository) Create(ctx context.Context, event *alarms.AlarmEvent) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	if event == nil {
		return errors.New("alarm event repo: nil event")
	}
	if event.ID == "" {
		return errors.New("alarm event repo: empty id")
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.OpenedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alarm_events (
	id, threshold_ref, tag_id, observed_value, window_kind, window_start, window_end,
	severity, message, opened_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11
)
ON CONFLICT (id) DO NOTHING`,
		event.ID, event.ThresholdRef, event.TagID, event.ObservedValue,
		string(event.WindowKind), event.WindowStart.UTC(), event.WindowEnd.UTC(),
		string(event.Severity), event.Message, event.OpenedAt.UTC(), event.UpdatedAt.UTC())
	return err
}

// GetByID loads one alarm event.
func (r *AlarmEventRepository) GetByID(ctx context.Context, id string) (*alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if id == "" {
		return nil, errors.New("alarm event repo: empty id")
	}
	row := r.db.QueryRowContext(ctx, selectAlarmEvent+` WHERE id = $1 LIMIT 1`, id)
	event, err := scanAlarmEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// FindOpenByRef returns the open event for a threshold ref, if any.
func (r *AlarmEventRepository) FindOpenByRef(ctx context.Context, ref string) (*alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	if ref == "" {
		return nil, errors.New("alarm event repo: empty ref")
	}
	row := r.db.QueryRowContext(ctx, selectAlarmEvent+`
WHERE threshold_ref = $1 AND closed_at IS NULL
ORDER BY opened_at DESC
LIMIT 1`, ref)
	event, err := scanAlarmEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return event, nil
}

// ListOpen returns every open alarm event.
func (r *AlarmEventRepository) ListOpen(ctx context.Context) ([]alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, selectAlarmEvent+`
WHERE closed_at IS NULL
ORDER BY opened_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlarmEvents(rows)
}

// ListByStatusAndTime filters the alarm log. status is "open", "closed"
// or empty for both; from/to bound opened_at when non-zero.
func (r *AlarmEventRepository) ListByStatusAndTime(ctx context.Context, status string, from, to time.Time) ([]alarms.AlarmEvent, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alarm event repo: nil db")
	}
	query := selectAlarmEvent + ` WHERE 1=1`
	args := make([]any, 0, 3)
	switch status {
	case "":
	case "open":
		query += ` AND closed_at IS NULL`
	case "closed":
		query += ` AND closed_at IS NOT NULL`
	default:
		return nil, errors.New("alarm event repo: invalid status filter")
	}
	if !from.IsZero() {
		args = append(args, from.UTC())
		query += ` AND opened_at >= $` + strconv.Itoa(len(args))
	}
	if !to.IsZero() {
		args = append(args, to.UTC())
		query += ` AND opened_at < $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY opened_at DESC LIMIT 500`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAlarmEvents(rows)
}

// UpdateObserved bumps the observed value on an open event.
func (r *AlarmEventRepository) UpdateObserved(ctx context.Context, id string, value float64, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alarm_events SET observed_value = $2, updated_at = $3
WHERE id = $1`, id, value, at.UTC())
	return err
}

// MarkAcknowledged records operator acknowledgement. Re-acknowledging
// keeps the first acknowledgement.
func (r *AlarmEventRepository) MarkAcknowledged(ctx context.Context, id, who string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE alarm_events SET acknowledged_at = $2, acknowledged_by = $3, updated_at = $2
WHERE id = $1 AND acknowledged_at IS NULL`, id, at.UTC(), who)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		existing, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return alarms.ErrNotFound
		}
	}
	return nil
}

// MarkClosed closes an open event.
func (r *AlarmEventRepository) MarkClosed(ctx context.Context, id string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alarm event repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE alarm_events SET closed_at = $2, updated_at = $2
WHERE id = $1 AND closed_at IS NULL`, id, at.UTC())
	return err
}

const selectAlarmEvent = `
SELECT id, threshold_ref, tag_id, observed_value, window_kind, window_start, window_end,
	severity, message, opened_at, acknowledged_at, acknowledged_by, closed_at, updated_at
FROM alarm_events`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlarmEvent(row rowScanner) (*alarms.AlarmEvent, error) {
	var event alarms.AlarmEvent
	var windowKind, severity string
	var ackAt, closedAt sql.NullTime
	var ackBy sql.NullString
	if err := row.Scan(
		&event.ID,
		&event.ThresholdRef,
		&event.TagID,
		&event.ObservedValue,
		&windowKind,
		&event.WindowStart,
		&event.WindowEnd,
		&severity,
		&event.Message,
		&event.OpenedAt,
		&ackAt,
		&ackBy,
		&closedAt,
		&event.UpdatedAt,
	); err != nil {
		return nil, err
	}
	event.WindowKind = shifts.Kind(windowKind)
	event.Severity = alarms.Severity(severity)
	event.WindowStart = event.WindowStart.UTC()
	event.WindowEnd = event.WindowEnd.UTC()
	event.OpenedAt = event.OpenedAt.UTC()
	event.UpdatedAt = event.UpdatedAt.UTC()
	if ackAt.Valid {
		event.AcknowledgedAt = ackAt.Time.UTC()
	}
	if ackBy.Valid {
		event.AcknowledgedBy = ackBy.String
	}
	if closedAt.Valid {
		event.ClosedAt = closedAt.Time.UTC()
	}
	return &event, nil
}

func collectAlarmEvents(rows *sql.Rows) ([]alarms.AlarmEvent, error) {
	var events []alarms.AlarmEvent
	for rows.Next() {
		event, err := scanAlarmEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}
	return events, rows.Err()
}
