// Package eventlog consumes the domain event stream through a Redis
// consumer group and records every event in a durable audit trail.
package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

const (
	// DefaultGroup is the Redis consumer group name.
	DefaultGroup = "rebrick_eventlog"

	// DefaultBatchSize is the max events per batch.
	DefaultBatchSize = 100

	// DefaultBlockTimeout is how long to block waiting for messages.
	DefaultBlockTimeout = 5 * time.Second

	// DefaultMaxRetries is the max store attempts per batch.
	DefaultMaxRetries = 3

	// DefaultRetryBase is the backoff after the first failed store.
	DefaultRetryBase = time.Second

	// DefaultClaimInterval is how often to scan pending messages.
	DefaultClaimInterval = 10 * time.Second

	// DefaultClaimIdle is the idle time before reclaiming pending messages.
	DefaultClaimIdle = 30 * time.Second

	// DefaultMetricsInterval is how often to refresh the lag gauge.
	DefaultMetricsInterval = 5 * time.Second

	// DeadLetterSuffix is appended to the stream key for poison messages.
	DeadLetterSuffix = ":dead"

	maxDeadLetterLen = 10000
)

// Store persists consumed events. Appends must be idempotent on event id.
type Store interface {
	AppendEvents(ctx context.Context, events []model.DomainEvent) error
}

// Handler observes events after they are stored.
type Handler func(ctx context.Context, e model.DomainEvent)

// Consumer reads the event stream and appends to a Store.
type Consumer struct {
	redis           *redis.Client
	store           Store
	logger          *slog.Logger
	metrics         metrics.Recorder
	stream          string
	group           string
	consumerID      string
	batchSize       int
	blockTimeout    time.Duration
	maxRetries      int
	retryBase       time.Duration
	claimInterval   time.Duration
	claimIdle       time.Duration
	metricsInterval time.Duration
	claimStartID    string
	lastClaim       time.Time
	lastMetrics     time.Time
	handlers        []Handler

	mu      sync.Mutex
	started bool
}

// NewConsumer creates a consumer for stream.
func NewConsumer(client *redis.Client, stream string, store Store, logger *slog.Logger, consumerID string, recorder metrics.Recorder) *Consumer {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Consumer{
		redis:           client,
		store:           store,
		logger:          logger.With("component", "eventlog.consumer", "consumer_id", consumerID),
		metrics:         recorder,
		stream:          stream,
		group:           DefaultGroup,
		consumerID:      consumerID,
		batchSize:       DefaultBatchSize,
		blockTimeout:    DefaultBlockTimeout,
		maxRetries:      DefaultMaxRetries,
		retryBase:       DefaultRetryBase,
		claimInterval:   DefaultClaimInterval,
		claimIdle:       DefaultClaimIdle,
		metricsInterval: DefaultMetricsInterval,
		claimStartID:    "0-0",
	}
}

// NewConsumerID creates a stable-ish consumer ID for Redis consumer groups.
func NewConsumerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d-%d", host, os.Getpid(), time.Now().UnixNano())
}

// OnEvent registers fn to run for every stored event. Register before Run.
func (c *Consumer) OnEvent(fn Handler) {
	c.handlers = append(c.handlers, fn)
}

// Run starts the consumer loop. Blocks until context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("consumer already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.ensureGroup(ctx); err != nil {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	c.logger.Info("event log consumer started", "stream", c.stream, "group", c.group)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event log consumer stopping")
			return ctx.Err()
		default:
		}

		if err := c.processOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("process error", "error", err)
			if err := sleep(ctx, time.Second); err != nil {
				return err
			}
		}
	}
}

// ensureGroup creates the consumer group if it doesn't exist. A new group
// starts at the beginning of the stream so no retained event is skipped.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !isGroupExistsError(err) {
		return err
	}
	return nil
}

// processOnce reads, stores and acknowledges a single batch.
func (c *Consumer) processOnce(ctx context.Context) error {
	c.maybeUpdateLag(ctx)

	claimed, err := c.maybeClaimPending(ctx)
	if err != nil {
		c.logger.Warn("failed to claim pending messages", "error", err)
	}

	messages := claimed
	if len(messages) == 0 {
		messages, err = c.readBatch(ctx)
		if err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	events, messageIDs := c.parseMessages(ctx, messages)
	if len(events) == 0 {
		// All messages were malformed, ACK them anyway to not block
		return c.ack(ctx, messageIDs)
	}

	if err := c.storeWithRetry(ctx, events); err != nil {
		c.logger.Error("batch store failed after retries",
			"batch_size", len(events),
			"error", err,
		)
		// Do not ACK so the messages can be retried later.
		return err
	}

	for _, e := range events {
		c.metrics.IncEventConsumed("stored")
		for _, h := range c.handlers {
			h(ctx, e)
		}
	}

	return c.ack(ctx, messageIDs)
}

// maybeClaimPending reclaims messages another consumer read but never
// acknowledged.
func (c *Consumer) maybeClaimPending(ctx context.Context) ([]redis.XMessage, error) {
	if c.claimInterval <= 0 || c.claimIdle <= 0 {
		return nil, nil
	}
	if !c.lastClaim.IsZero() && time.Since(c.lastClaim) < c.claimInterval {
		return nil, nil
	}

	c.lastClaim = time.Now()
	messages, start, err := c.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumerID,
		MinIdle:  c.claimIdle,
		Start:    c.claimStartID,
		Count:    int64(c.batchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if start != "" {
		c.claimStartID = start
	}
	return messages, nil
}

func (c *Consumer) maybeUpdateLag(ctx context.Context) {
	if c.metricsInterval <= 0 {
		return
	}
	if !c.lastMetrics.IsZero() && time.Since(c.lastMetrics) < c.metricsInterval {
		return
	}
	c.lastMetrics = time.Now()

	groups, err := c.redis.XInfoGroups(ctx, c.stream).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Warn("failed to read stream group info", "error", err)
		return
	}
	for _, group := range groups {
		if group.Name == c.group {
			c.metrics.SetEventLogLag(group.Pending + group.Lag)
			return
		}
	}
}

// readBatch reads new messages using XREADGROUP.
func (c *Consumer) readBatch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumerID,
		Streams:  []string{c.stream, ">"},
		Count:    int64(c.batchSize),
		Block:    c.blockTimeout,
	}).Result()

	if errors.Is(err, redis.Nil) || len(streams) == 0 {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	return streams[0].Messages, nil
}

// parseMessages decodes stream entries written by events.RedisSink.
// Malformed messages are moved to the dead-letter stream.
func (c *Consumer) parseMessages(ctx context.Context, messages []redis.XMessage) ([]model.DomainEvent, []string) {
	events := make([]model.DomainEvent, 0, len(messages))
	messageIDs := make([]string, 0, len(messages))

	for _, msg := range messages {
		messageIDs = append(messageIDs, msg.ID)

		payload, ok := msg.Values["payload"].(string)
		if !ok {
			c.deadLetter(ctx, msg, "invalid_format", "payload field missing or not a string")
			continue
		}

		var e model.DomainEvent
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			c.deadLetter(ctx, msg, "unmarshal_error", err.Error())
			continue
		}
		if err := validateEvent(e); err != nil {
			c.deadLetter(ctx, msg, "validation_error", err.Error())
			continue
		}

		events = append(events, e)
	}

	return events, messageIDs
}

func validateEvent(e model.DomainEvent) error {
	switch {
	case strings.TrimSpace(e.ID) == "":
		return errors.New("event id is required")
	case e.Type == "":
		return errors.New("event type is required")
	case strings.TrimSpace(e.AggregateID) == "":
		return errors.New("aggregate id is required")
	case e.OccurredAt.IsZero():
		return errors.New("occurred_at is required")
	}
	return nil
}

// deadLetter moves a poison message to the dead-letter stream.
func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, reason, detail string) {
	c.logger.Warn("dead-lettering poison message",
		"message_id", msg.ID,
		"reason", reason,
		"detail", detail,
	)

	_, err := c.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: c.stream + DeadLetterSuffix,
		MaxLen: maxDeadLetterLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"original_id":      msg.ID,
			"original_stream":  c.stream,
			"reason":           reason,
			"detail":           detail,
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		c.logger.Error("failed to write to dead-letter stream",
			"message_id", msg.ID,
			"error", err,
		)
	}

	c.metrics.IncEventConsumed("dead_lettered")
}

// storeWithRetry appends a batch with exponential backoff.
func (c *Consumer) storeWithRetry(ctx context.Context, events []model.DomainEvent) error {
	var lastErr error
	backoff := c.retryBase

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		start := time.Now()
		err := c.store.AppendEvents(ctx, events)
		if err == nil {
			c.logger.Debug("batch stored",
				"events_count", len(events),
				"duration_ms", float64(time.Since(start).Microseconds())/1000,
			)
			return nil
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		c.logger.Warn("batch store failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := sleep(ctx, backoff); err != nil {
			return err
		}
		backoff *= 2
	}

	for range events {
		c.metrics.IncEventConsumed("failed")
	}
	return lastErr
}

// ack acknowledges processed messages.
func (c *Consumer) ack(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := c.redis.XAck(ctx, c.stream, c.group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

// SetGroup overrides the consumer group name.
func (c *Consumer) SetGroup(group string) {
	if group != "" {
		c.group = group
	}
}

// SetBatchSize overrides the default batch size.
func (c *Consumer) SetBatchSize(size int) {
	if size > 0 {
		c.batchSize = size
	}
}

// SetBlockTimeout overrides the default blocking timeout.
func (c *Consumer) SetBlockTimeout(timeout time.Duration) {
	if timeout > 0 {
		c.blockTimeout = timeout
	}
}

// SetRetryPolicy overrides the store retry attempts and first backoff.
func (c *Consumer) SetRetryPolicy(maxRetries int, base time.Duration) {
	if maxRetries > 0 {
		c.maxRetries = maxRetries
	}
	if base > 0 {
		c.retryBase = base
	}
}

// SetClaimInterval overrides the pending-claim interval. Zero disables claiming.
func (c *Consumer) SetClaimInterval(interval time.Duration) {
	if interval >= 0 {
		c.claimInterval = interval
	}
}

// SetClaimIdle overrides the default pending idle threshold.
func (c *Consumer) SetClaimIdle(idle time.Duration) {
	if idle > 0 {
		c.claimIdle = idle
	}
}

// SetMetricsInterval overrides the lag refresh interval. Zero disables it.
func (c *Consumer) SetMetricsInterval(interval time.Duration) {
	if interval >= 0 {
		c.metricsInterval = interval
	}
}

// isGroupExistsError checks if the error is "BUSYGROUP" (group exists).
func isGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
