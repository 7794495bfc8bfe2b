package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/rebrick/rebrick/internal/model"
)

const (
	// DefaultStreamKey is the Redis stream for domain events.
	DefaultStreamKey = "rebrick:events"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000
)

// RedisSink appends events to a Redis stream.
type RedisSink struct {
	client *redis.Client
	stream string
}

// NewRedisSink creates a sink writing to stream.
func NewRedisSink(client *redis.Client, stream string) *RedisSink {
	if stream == "" {
		stream = DefaultStreamKey
	}
	return &RedisSink{client: client, stream: stream}
}

// Publish adds every event to the stream in one pipeline.
func (s *RedisSink) Publish(ctx context.Context, events []model.DomainEvent) error {
	if len(events) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: MaxStreamLen,
			Approx: true, // ~MAXLEN for performance
			ID:     "*",  // Auto-generate ID
			Values: map[string]interface{}{
				"type":         string(e.Type),
				"aggregate_id": e.AggregateID,
				"payload":      string(data),
			},
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("xadd: %w", err)
	}
	return nil
}
