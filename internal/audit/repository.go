package audit

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository writes and lists audit logs.
type Repository struct {
	db *sql.DB
}

// NewRepository constructs an audit repository.
func NewRepository(db *sql.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	if entry.ID == "" {
		entry.ID = NewID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.PayloadDigest == "" {
		entry.PayloadDigest = DigestJSON(entry.Metadata)
	}

	metadata := sql.NullString{String: string(entry.Metadata), Valid: len(entry.Metadata) > 0}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO audit_log (
	id, actor, role, action, resource_type, resource_id,
	metadata, payload_digest, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, entry.ID, entry.Actor, entry.Role, entry.Action, entry.ResourceType, entry.ResourceID,
		metadata, entry.PayloadDigest, entry.CreatedAt)
	return err
}

// List returns the most recent entries, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Entry, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("audit repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, actor, role, action, resource_type, resource_id, metadata, payload_digest, created_at
FROM audit_log
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Entry
	for rows.Next() {
		var entry Entry
		var metadata sql.NullString
		if err := rows.Scan(
			&entry.ID,
			&entry.Actor,
			&entry.Role,
			&entry.Action,
			&entry.ResourceType,
			&entry.ResourceID,
			&metadata,
			&entry.PayloadDigest,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if metadata.Valid {
			entry.Metadata = []byte(metadata.String)
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		result = append(result, entry)
	}
	return result, rows.Err()
}
