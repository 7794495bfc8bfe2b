package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/rebrick/rebrick/internal/model"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject.
const DefaultSubjectPrefix = "rebrick.events"

// MsgPublisher is the subset of *nats.Conn the sink needs.
type MsgPublisher interface {
	PublishMsg(msg *nats.Msg) error
}

// NATSSink publishes each event on "<prefix>.<event type>", e.g.
// rebrick.events.deployment.completed.
type NATSSink struct {
	conn   MsgPublisher
	prefix string
}

// NewNATSSink creates a sink publishing under prefix.
func NewNATSSink(conn MsgPublisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSSink{conn: conn, prefix: prefix}
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t model.EventType) string {
	return s.prefix + "." + string(t)
}

// Publish sends events in order. The event id travels in the Nats-Msg-Id
// header so JetStream consumers can deduplicate.
func (s *NATSSink) Publish(ctx context.Context, events []model.DomainEvent) error {
	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		msg := nats.NewMsg(s.Subject(e.Type))
		msg.Data = data
		msg.Header.Set(nats.MsgIdHdr, e.ID)
		msg.Header.Set("Rebrick-Aggregate-Id", e.AggregateID)
		if err := s.conn.PublishMsg(msg); err != nil {
			return fmt.Errorf("nats publish %s: %w", msg.Subject, err)
		}
	}
	return nil
}
