package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	txcontext "keystone/pkg/platform/tx"
)

// PostgresStore implements Store with the transactional outbox pattern. Rows
// are written in the caller's transaction and shipped to Kafka by the Relay.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// outboxPayload is the JSON published to Kafka.
type outboxPayload struct {
	ID           string            `json:"id"`
	Action       string            `json:"action"`
	MemberID     string            `json:"member_id"`
	OccurrenceID string            `json:"occurrence_id,omitempty"`
	ActorID      string            `json:"actor_id,omitempty"`
	Detail       map[string]string `json:"detail,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Timestamp    string            `json:"timestamp"`
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	eventID := uuid.New()
	payload := outboxPayload{
		ID:        eventID.String(),
		Action:    string(event.Action),
		MemberID:  event.MemberID.String(),
		Detail:    event.Detail,
		RequestID: event.RequestID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if !event.OccurrenceID.IsNil() {
		payload.OccurrenceID = event.OccurrenceID.String()
	}
	if !event.ActorID.IsNil() {
		payload.ActorID = event.ActorID.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	query := `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
		VALUES ($1, 'member', $2, $3, $4, $5)
	`
	_, err = txcontext.Use(ctx, s.db).ExecContext(ctx, query,
		eventID, event.MemberID.String(), string(event.Action), body, event.Timestamp)
	if err != nil {
		return fmt.Errorf("insert outbox entry: %w", err)
	}
	return nil
}

// ClaimUnpublished locks up to limit unpublished rows for the current
// transaction. Concurrent relays skip each other's rows.
func (s *PostgresStore) ClaimUnpublished(ctx context.Context, limit int) ([]OutboxEntry, error) {
	query := `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := txcontext.Use(ctx, s.db).QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox entries: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.EventType, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox entries: %w", err)
	}
	return entries, nil
}

// MarkPublished stamps rows as shipped.
func (s *PostgresStore) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE outbox SET published_at = $2 WHERE id = ANY($1::uuid[])`
	if _, err := txcontext.Use(ctx, s.db).ExecContext(ctx, query, pq.Array(ids), at); err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
