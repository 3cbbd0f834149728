package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/KevinKickass/OpenTransportCore/internal/telemetry"
)

const (
	defaultJournalLimit = 100
	maxJournalLimit     = 1000
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS station_events (
	id          UUID PRIMARY KEY,
	kind        TEXT NOT NULL,
	topic       TEXT NOT NULL,
	device      TEXT NOT NULL DEFAULT '',
	value       JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS station_events_device_idx ON station_events (device, occurred_at DESC);
`

// EnsureSchema creates the journal table if it does not exist.
func (p *PostgresClient) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, journalSchema); err != nil {
		return fmt.Errorf("failed to create journal schema: %w", err)
	}
	return nil
}

// AppendEvent stores a station event.
func (p *PostgresClient) AppendEvent(ctx context.Context, event telemetry.Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal event value: %w", err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO station_events (id, kind, topic, device, value, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`, event.ID, string(event.Kind), event.Topic, event.Device, value, event.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

// RecentEvents returns the newest events first.
func (p *PostgresClient) RecentEvents(ctx context.Context, filter JournalFilter) ([]*JournalEntry, error) {
	query, args := buildRecentQuery(filter)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*JournalEntry, error) {
		var e JournalEntry
		err := row.Scan(&e.ID, &e.Kind, &e.Topic, &e.Device, &e.Value, &e.OccurredAt)
		return &e, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan events: %w", err)
	}
	return entries, nil
}

func buildRecentQuery(filter JournalFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Device != "" {
		add("device = $%d", filter.Device)
	}
	if filter.Kind != "" {
		add("kind = $%d", filter.Kind)
	}
	if !filter.Since.IsZero() {
		add("occurred_at >= $%d", filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultJournalLimit
	}
	if limit > maxJournalLimit {
		limit = maxJournalLimit
	}

	var b strings.Builder
	b.WriteString("SELECT id, kind, topic, device, value, occurred_at FROM station_events")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY occurred_at DESC LIMIT $%d", len(args))

	return b.String(), args
}

// JournalSink persists dispatched events.
type JournalSink struct {
	db *PostgresClient
}

func NewJournalSink(db *PostgresClient) *JournalSink {
	return &JournalSink{db: db}
}

func (j *JournalSink) Name() string { return "journal" }

func (j *JournalSink) Publish(ctx context.Context, event telemetry.Event) error {
	return j.db.AppendEvent(ctx, event)
}

// Close is a no-op, the pool is owned by the caller.
func (j *JournalSink) Close() error { return nil }
