package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "waterwatch/internal/alarms/domain"
)

// ContactRepository is a Postgres store for the SMS contact roster.
type ContactRepository struct {
	db *sql.DB
}

// NewContactRepository constructs a repository.
func NewContactRepository(db *sql.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Upsert inserts or replaces a contact, keyed by MSISDN.
func (r *ContactRepository) Upsert(ctx context.Context, contact *alarms.Contact) error {
	if r == nil || r.db == nil {
		return errors.New("contact repo: nil db")
	}
	if contact == nil {
		return errors.New("contact repo: nil contact")
	}
	if err := contact.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = now
	}
	contact.UpdatedAt = now
	_, err := r.db.ExecContext(ctx, `
INSERT INTO contacts (
	msisdn, name, contact_group, role, days_of_week, window_start, window_end,
	enabled, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10
)
ON CONFLICT (msisdn) DO UPDATE SET
	name = EXCLUDED.name,
	contact_group = EXCLUDED.contact_group,
	role = EXCLUDED.role,
	days_of_week = EXCLUDED.days_of_week,
	window_start = EXCLUDED.window_start,
	window_end = EXCLUDED.window_end,
	enabled = EXCLUDED.enabled,
	updated_at = EXCLUDED.updated_at`,
		contact.MSISDN, contact.Name, contact.Group, nullString(contact.Role),
		contact.DaysOfWeek, contact.WindowStart, contact.WindowEnd,
		contact.Enabled, contact.CreatedAt, contact.UpdatedAt)
	return err
}

// List returns every contact.
func (r *ContactRepository) List(ctx context.Context) ([]alarms.Contact, error) {
	return r.list(ctx, selectContact+` ORDER BY name ASC`)
}

// ListEnabled returns the contacts eligible for routing.
func (r *ContactRepository) ListEnabled(ctx context.Context) ([]alarms.Contact, error) {
	return r.list(ctx, selectContact+` WHERE enabled = TRUE ORDER BY name ASC`)
}

func (r *ContactRepository) list(ctx context.Context, query string) ([]alarms.Contact, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("contact repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var contacts []alarms.Contact
	for rows.Next() {
		var contact alarms.Contact
		var role sql.NullString
		if err := rows.Scan(
			&contact.MSISDN,
			&contact.Name,
			&contact.Group,
			&role,
			&contact.DaysOfWeek,
			&contact.WindowStart,
			&contact.WindowEnd,
			&contact.Enabled,
			&contact.CreatedAt,
			&contact.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if role.Valid {
			contact.Role = role.String
		}
		contact.CreatedAt = contact.CreatedAt.UTC()
		contact.UpdatedAt = contact.UpdatedAt.UTC()
		contacts = append(contacts, contact)
	}
	return contacts, rows.Err()
}

const selectContact = `
SELECT msisdn, name, contact_group, role, days_of_week, window_start, window_end,
	enabled, created_at, updated_at
FROM contacts`
