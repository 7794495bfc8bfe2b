// Package events delivers domain events recorded by aggregates to an
// external sink once the aggregate's snapshot has been persisted.
package events

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

// Sink publishes domain events. Implementations must keep the given order.
type Sink interface {
	Publish(ctx context.Context, events []model.DomainEvent) error
}

// Source is an aggregate holding recorded events.
type Source interface {
	DomainEvents() []model.DomainEvent
	ClearDomainEvents()
}

// NopSink discards events.
type NopSink struct{}

// Publish implements Sink.
func (NopSink) Publish(context.Context, []model.DomainEvent) error { return nil }

// Fanout publishes every batch to each sink in turn. A failing sink does
// not stop the others; their errors are joined.
type Fanout []Sink

// Publish implements Sink.
func (f Fanout) Publish(ctx context.Context, events []model.DomainEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher drains aggregates into a sink.
type Dispatcher struct {
	sink    Sink
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(sink Sink, logger *slog.Logger, recorder metrics.Recorder) *Dispatcher {
	if sink == nil {
		sink = NopSink{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Dispatcher{
		sink:    sink,
		logger:  logger.With("component", "events.dispatcher"),
		metrics: recorder,
	}
}

// Dispatch publishes the events recorded on src and clears them. The
// persisted snapshot is the source of truth, so events are cleared even
// when the sink fails; the error is logged and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, src Source) error {
	pending := src.DomainEvents()
	if len(pending) == 0 {
		return nil
	}
	src.ClearDomainEvents()

	if err := d.sink.Publish(ctx, pending); err != nil {
		for range pending {
			d.metrics.IncEventPublished("failed")
		}
		d.logger.Error("failed to publish domain events",
			"aggregate_id", pending[0].AggregateID,
			"aggregate_type", pending[0].AggregateType,
			"count", len(pending),
			"error", err,
		)
		return err
	}

	for _, e := range pending {
		d.metrics.IncEventPublished("success")
		d.logger.Debug("domain event published",
			"event_id", e.ID,
			"type", e.Type,
			"aggregate_id", e.AggregateID,
		)
	}
	return nil
}
