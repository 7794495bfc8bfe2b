package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rebrick/rebrick/internal/model"
)

// AppendEvents records events in the audit trail. Events already stored
// are skipped, so redelivered stream entries are harmless.
func (r *Repository) AppendEvents(ctx context.Context, events []model.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO domain_events (
			id, type, aggregate_id, aggregate_type, version, payload, occurred_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		payload, err := json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode payload of event %s: %w", e.ID, err)
		}
		batch.Queue(query,
			e.ID,
			string(e.Type),
			e.AggregateID,
			e.AggregateType,
			e.Version,
			payload,
			e.OccurredAt,
		)
	}

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}

	return nil
}

// ListAggregateEvents returns the recorded history of one aggregate,
// oldest first. Events sharing a timestamp keep their insertion order. Payloads are returned as raw JSON.
func (r *Repository) ListAggregateEvents(ctx context.Context, aggregateID string) ([]model.DomainEvent, error) {
	query := `
		SELECT id, type, aggregate_id, aggregate_type, version, payload, occurred_at
		FROM domain_events
		WHERE aggregate_id = $1
		ORDER BY occurred_at, seq
	`

	rows, err := r.pool.Query(ctx, query, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("failed to list domain events: %w", err)
	}
	defer rows.Close()

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DomainEvent, error) {
		var (
			e          model.DomainEvent
			eventType  string
			payload    []byte
			occurredAt time.Time
		)
		if err := row.Scan(&e.ID, &eventType, &e.AggregateID, &e.AggregateType, &e.Version, &payload, &occurredAt); err != nil {
			return e, err
		}
		e.Type = model.EventType(eventType)
		e.Payload = json.RawMessage(payload)
		e.OccurredAt = occurredAt
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan domain events: %w", err)
	}

	return events, nil
}
