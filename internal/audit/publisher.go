package audit

import (
	"context"
	"log/slog"

	"keystone/pkg/requestcontext"
)

// Store persists audit events. Postgres writes join the caller's transaction,
// which makes the audit trail fail-closed: no event, no state change.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Publisher logs every event as an audit line and appends it to the outbox.
type Publisher struct {
	store  Store
	logger *slog.Logger
}

func NewPublisher(store Store, logger *slog.Logger) *Publisher {
	return &Publisher{store: store, logger: logger}
}

// Emit records event. Timestamp and request ID default from ctx.
func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
	if actor, ok := requestcontext.Actor(ctx); ok && event.ActorID.IsNil() && actor.MemberID != event.MemberID {
		event.ActorID = actor.MemberID
	}
	if p.logger != nil {
		attrs := []any{
			"log_type", "audit",
			"event", string(event.Action),
			"member_id", event.MemberID.String(),
			"request_id", event.RequestID,
		}
		if !event.OccurrenceID.IsNil() {
			attrs = append(attrs, "occurrence_id", event.OccurrenceID.String())
		}
		if !event.ActorID.IsNil() {
			attrs = append(attrs, "actor_id", event.ActorID.String())
		}
		for k, v := range event.Detail {
			attrs = append(attrs, k, v)
		}
		p.logger.InfoContext(ctx, string(event.Action), attrs...)
	}
	if p.store == nil {
		return nil
	}
	return p.store.Append(ctx, event)
}
