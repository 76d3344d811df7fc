// Package historian reads raw totalizer samples from the plant
// historian's SQL mirror. Reads are read-only and idempotent; a
// connectivity failure is reported as ErrUnavailable, distinct from a
// tag simply having no data.
package historian

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"waterwatch/internal/delta"
	"waterwatch/internal/shifts"
	"waterwatch/internal/tagmap"
)

// ErrUnavailable indicates the historian could not be reached.
var ErrUnavailable = errors.New("historian: unavailable")

const (
	defaultTable        = "tag_history"
	defaultQueryTimeout = 10 * time.Second
	defaultBracket      = 30 * time.Minute
)

// MappingProvider supplies the current configured-name mapping.
type MappingProvider interface {
	Mapping() *tagmap.Mapping
}

// Client queries the historian mirror over database/sql.
type Client struct {
	db       *sql.DB
	table    string
	mappings MappingProvider
	timeout  time.Duration
	bracket  time.Duration
}

// Option configures the client.
type Option func(*Client)

// WithTable overrides the history table name.
func WithTable(table string) Option {
	return func(c *Client) {
		if table != "" {
			c.table = table
		}
	}
}

// WithQueryTimeout bounds each historian query.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithBracket sets how far inside a window the bracketing samples may
// land.
func WithBracket(bracket time.Duration) Option {
	return func(c *Client) {
		if bracket > 0 {
			c.bracket = bracket
		}
	}
}

// NewClient constructs a historian client.
func NewClient(db *sql.DB, mappings MappingProvider, opts ...Option) (*Client, error) {
	if db == nil {
		return nil, errors.New("historian: nil db")
	}
	if mappings == nil {
		return nil, errors.New("historian: nil mapping provider")
	}
	client := &Client{
		db:       db,
		table:    defaultTable,
		mappings: mappings,
		timeout:  defaultQueryTimeout,
		bracket:  defaultBracket,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// FetchSamples returns raw samples for a configured tag in [start, end],
// ordered ascending. An unknown tag yields an empty slice, not an error.
func (c *Client) FetchSamples(ctx context.Context, tag string, start, end time.Time) ([]delta.Sample, error) {
	if c == nil || c.db == nil {
		return nil, errors.New("historian: nil client")
	}
	historianTag := c.mappings.Mapping().HistorianTag(tag)

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := fmt.Sprintf(`
SELECT ts, value
FROM %s
WHERE tag_name = $1
	AND ts >= $2
	AND ts <= $3
ORDER BY ts ASC`, c.table)

	rows, err := c.db.QueryContext(queryCtx, query, historianTag, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var samples []delta.Sample
	for rows.Next() {
		var ts time.Time
		var value sql.NullFloat64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if !value.Valid {
			continue
		}
		samples = append(samples, delta.Sample{Tag: tag, At: ts.UTC(), Raw: value.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return samples, nil
}

// Latest returns the most recent sample for a tag within the last day.
func (c *Client) Latest(ctx context.Context, tag string) (delta.Sample, bool, error) {
	if c == nil || c.db == nil {
		return delta.Sample{}, false, errors.New("historian: nil client")
	}
	historianTag := c.mappings.Mapping().HistorianTag(tag)

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := fmt.Sprintf(`
SELECT ts, value
FROM %s
WHERE tag_name = $1
	AND ts >= $2
ORDER BY ts DESC
LIMIT 1`, c.table)

	row := c.db.QueryRowContext(queryCtx, query, historianTag, time.Now().UTC().Add(-24*time.Hour))
	var ts time.Time
	var value sql.NullFloat64
	if err := row.Scan(&ts, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return delta.Sample{}, false, nil
		}
		return delta.Sample{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !value.Valid {
		return delta.Sample{}, false, nil
	}
	return delta.Sample{Tag: tag, At: ts.UTC(), Raw: value.Float64}, true, nil
}

// WindowSamples returns the samples bracketing a window: the earliest
// sample shortly after the window opens and the latest shortly before
// it ends. A still-open window (or an empty end bracket) falls back to
// the tag's latest value. ok is false when the window cannot be
// bracketed; that is missing data, not an error.
func (c *Client) WindowSamples(ctx context.Context, tag string, window shifts.Window, now time.Time) (delta.Sample, delta.Sample, bool, error) {
	start, ok, err := c.firstInRange(ctx, tag, window.Start, window.Start.Add(c.bracket))
	if err != nil {
		return delta.Sample{}, delta.Sample{}, false, err
	}
	if !ok {
		return delta.Sample{}, delta.Sample{}, false, nil
	}

	if !now.Before(window.End) {
		end, ok, err := c.lastInRange(ctx, tag, window.End.Add(-c.bracket), window.End)
		if err != nil {
			return delta.Sample{}, delta.Sample{}, false, err
		}
		if ok {
			return start, end, true, nil
		}
	}

	// Window still open: the current value stands in for the end sample.
	end, ok, err := c.Latest(ctx, tag)
	if err != nil {
		return delta.Sample{}, delta.Sample{}, false, err
	}
	if !ok || end.At.Before(start.At) {
		return delta.Sample{}, delta.Sample{}, false, nil
	}
	return start, end, true, nil
}

func (c *Client) firstInRange(ctx context.Context, tag string, from, to time.Time) (delta.Sample, bool, error) {
	return c.edgeInRange(ctx, tag, from, to, "ASC")
}

func (c *Client) lastInRange(ctx context.Context, tag string, from, to time.Time) (delta.Sample, bool, error) {
	return c.edgeInRange(ctx, tag, from, to, "DESC")
}

func (c *Client) edgeInRange(ctx context.Context, tag string, from, to time.Time, order string) (delta.Sample, bool, error) {
	historianTag := c.mappings.Mapping().HistorianTag(tag)

	queryCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	query := fmt.Sprintf(`
SELECT ts, value
FROM %s
WHERE tag_name = $1
	AND ts >= $2
	AND ts <= $3
ORDER BY ts %s
LIMIT 1`, c.table, order)

	row := c.db.QueryRowContext(queryCtx, query, historianTag, from.UTC(), to.UTC())
	var ts time.Time
	var value sql.NullFloat64
	if err := row.Scan(&ts, &value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return delta.Sample{}, false, nil
		}
		return delta.Sample{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !value.Valid {
		return delta.Sample{}, false, nil
	}
	return delta.Sample{Tag: tag, At: ts.UTC(), Raw: value.Float64}, true, nil
}
