package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alarms "waterwatch/internal/alarms/domain"
)

// ThresholdRepository is a Postgres store for threshold rules.
type ThresholdRepository struct {
	db *sql.DB
}

// NewThresholdRepository constructs a repository.
func NewThresholdRepository(db *sql.DB) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

// Create inserts a threshold rule.
func (r *ThresholdRepository) Create(ctx context.Context, rule *alarms.ThresholdRule) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if rule == nil {
		return errors.New("threshold repo: nil rule")
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}
	if rule.UpdatedAt.IsZero() {
		rule.UpdatedAt = rule.CreatedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO thresholds (
	ref, tag_id, limit_value, operator, target, severity, unit,
	message_template, contact_group, enabled, created_at, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7,
	$8, $9, $10, $11, $12
)`,
		rule.Ref, rule.TagID, rule.LimitValue, string(rule.Operator), string(rule.Target),
		string(rule.Severity), rule.Unit, nullString(rule.MessageTemplate),
		nullString(rule.Group), rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
	return err
}

// GetByRef loads one rule.
func (r *ThresholdRepository) GetByRef(ctx context.Context, ref string) (*alarms.ThresholdRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	if ref == "" {
		return nil, errors.New("threshold repo: empty ref")
	}
	row := r.db.QueryRowContext(ctx, selectThreshold+` WHERE ref = $1 LIMIT 1`, ref)
	rule, err := scanThreshold(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return rule, nil
}

// List returns every rule, enabled or not.
func (r *ThresholdRepository) List(ctx context.Context) ([]alarms.ThresholdRule, error) {
	return r.list(ctx, selectThreshold+` ORDER BY ref ASC`)
}

// ListEnabled returns the rules the poll cycle should evaluate.
func (r *ThresholdRepository) ListEnabled(ctx context.Context) ([]alarms.ThresholdRule, error) {
	return r.list(ctx, selectThreshold+` WHERE enabled = TRUE ORDER BY ref ASC`)
}

func (r *ThresholdRepository) list(ctx context.Context, query string) ([]alarms.ThresholdRule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("threshold repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []alarms.ThresholdRule
	for rows.Next() {
		rule, err := scanThreshold(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// SetEnabled flips a rule on or off.
func (r *ThresholdRepository) SetEnabled(ctx context.Context, ref string, enabled bool) error {
	if r == nil || r.db == nil {
		return errors.New("threshold repo: nil db")
	}
	if ref == "" {
		return errors.New("threshold repo: empty ref")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE thresholds SET enabled = $2, updated_at = $3
WHERE ref = $1`, ref, enabled, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return alarms.ErrNotFound
	}
	return nil
}

const selectThreshold = `
SELECT ref, tag_id, limit_value, operator, target, severity, unit,
	message_template, contact_group, enabled, created_at, updated_at
FROM thresholds`

func scanThreshold(row rowScanner) (*alarms.ThresholdRule, error) {
	var rule alarms.ThresholdRule
	var op, target, severity string
	var template, group sql.NullString
	if err := row.Scan(
		&rule.Ref,
		&rule.TagID,
		&rule.LimitValue,
		&op,
		&target,
		&severity,
		&rule.Unit,
		&template,
		&group,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Operator = alarms.Operator(op)
	rule.Target = alarms.Target(target)
	rule.Severity = alarms.Severity(severity)
	if template.Valid {
		rule.MessageTemplate = template.String
	}
	if group.Valid {
		rule.Group = group.String
	}
	rule.CreatedAt = rule.CreatedAt.UTC()
	rule.UpdatedAt = rule.UpdatedAt.UTC()
	return &rule, nil
}
