package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/rebrick/rebrick/internal/metrics"
	"github.com/rebrick/rebrick/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newJob(t *testing.T) *model.DeploymentJob {
	t.Helper()
	job, err := model.NewDeploymentJob("rebuild-1", "https://wp.trattoria-roma.example")
	if err != nil {
		t.Fatalf("NewDeploymentJob() error = %v", err)
	}
	if err := job.StartDeployment(); err != nil {
		t.Fatalf("StartDeployment() error = %v", err)
	}
	err = job.RecordPageDeployment(model.DeployedPage{
		PageType:        model.PageMenu,
		WordPressPageID: 42,
		URL:             "https://wp.trattoria-roma.example/menu",
	})
	if err != nil {
		t.Fatalf("RecordPageDeployment() error = %v", err)
	}
	return job
}

type recordingSink struct {
	got []model.DomainEvent
	err error
}

func (s *recordingSink) Publish(_ context.Context, events []model.DomainEvent) error {
	if s.err != nil {
		return s.err
	}
	s.got = append(s.got, events...)
	return nil
}

func TestDispatcher_PublishesAndClears(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	rec := metrics.NewInMemory()
	d := NewDispatcher(sink, testLogger(), rec)
	job := newJob(t)

	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(sink.got) != 2 {
		t.Fatalf("published %d events, want 2", len(sink.got))
	}
	if sink.got[0].Type != model.EventDeploymentQueued || sink.got[1].Type != model.EventPagePublished {
		t.Errorf("event order = %s, %s", sink.got[0].Type, sink.got[1].Type)
	}
	if len(job.DomainEvents()) != 0 {
		t.Error("events should be cleared after dispatch")
	}
	if got := rec.Snapshot().EventsPublished["success"]; got != 2 {
		t.Errorf("EventsPublished[success] = %d, want 2", got)
	}

	// Nothing left to send.
	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("second Dispatch() error = %v", err)
	}
	if len(sink.got) != 2 {
		t.Errorf("second dispatch published again: %d events", len(sink.got))
	}
}

func TestDispatcher_SinkFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("sink down")
	rec := metrics.NewInMemory()
	d := NewDispatcher(&recordingSink{err: boom}, testLogger(), rec)
	job := newJob(t)

	err := d.Dispatch(context.Background(), job)
	if !errors.Is(err, boom) {
		t.Fatalf("Dispatch() error = %v, want %v", err, boom)
	}
	if len(job.DomainEvents()) != 0 {
		t.Error("events should be cleared even when the sink fails")
	}
	if got := rec.Snapshot().EventsPublished["failed"]; got != 2 {
		t.Errorf("EventsPublished[failed] = %d, want 2", got)
	}
}

func TestDispatcher_NilSinkDiscards(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil, testLogger(), nil)
	job := newJob(t)

	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(job.DomainEvents()) != 0 {
		t.Error("events should be cleared")
	}
}

func TestRedisSink_Publish(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := NewRedisSink(client, "")
	job := newJob(t)
	ctx := context.Background()

	if err := sink.Publish(ctx, job.DomainEvents()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	entries, err := client.XRange(ctx, DefaultStreamKey, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stream has %d entries, want 2", len(entries))
	}

	if entries[1].Values["type"] != string(model.EventPagePublished) {
		t.Errorf("type = %v, want %s", entries[1].Values["type"], model.EventPagePublished)
	}
	if entries[1].Values["aggregate_id"] != job.ID() {
		t.Errorf("aggregate_id = %v, want %s", entries[1].Values["aggregate_id"], job.ID())
	}

	var decoded struct {
		Type model.EventType `json:"type"`
		Payload struct {
			WordPressPageID int64 `json:"wordpress_page_id"`
		} `json:"payload"`
	}
	if err := json.Unmarshal([]byte(entries[1].Values["payload"].(string)), &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Payload.WordPressPageID != 42 {
		t.Errorf("payload wordpress_page_id = %d, want 42", decoded.Payload.WordPressPageID)
	}
}

func TestRedisSink_Empty(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if err := NewRedisSink(client, "s").Publish(context.Background(), nil); err != nil {
		t.Fatalf("Publish(nil) error = %v", err)
	}
	if mr.Exists("s") {
		t.Error("empty publish should not create the stream")
	}
}

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (c *fakeConn) PublishMsg(msg *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestNATSSink_Publish(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	sink := NewNATSSink(conn, "")
	job := newJob(t)
	events := job.DomainEvents()

	if err := sink.Publish(context.Background(), events); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(conn.msgs) != 2 {
		t.Fatalf("published %d messages, want 2", len(conn.msgs))
	}

	msg := conn.msgs[0]
	if msg.Subject != "rebrick.events.deployment.queued" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.Header.Get(nats.MsgIdHdr) != events[0].ID {
		t.Errorf("msg id header = %q, want %q", msg.Header.Get(nats.MsgIdHdr), events[0].ID)
	}

	var decoded model.DomainEvent
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("data is not JSON: %v", err)
	}
	if decoded.AggregateID != job.ID() {
		t.Errorf("aggregate id = %q, want %q", decoded.AggregateID, job.ID())
	}
}

func TestNATSSink_Errors(t *testing.T) {
	t.Parallel()

	job := newJob(t)

	sink := NewNATSSink(&fakeConn{err: nats.ErrConnectionClosed}, "x")
	if err := sink.Publish(context.Background(), job.DomainEvents()); !errors.Is(err, nats.ErrConnectionClosed) {
		t.Errorf("Publish() error = %v, want ErrConnectionClosed", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn := &fakeConn{}
	if err := NewNATSSink(conn, "x").Publish(ctx, job.DomainEvents()); !errors.Is(err, context.Canceled) {
		t.Errorf("Publish() with cancelled ctx error = %v", err)
	}
	if len(conn.msgs) != 0 {
		t.Error("nothing should be sent after cancellation")
	}
}

func TestFanout(t *testing.T) {
	t.Parallel()

	first := &recordingSink{}
	broken := &recordingSink{err: errors.New("subscriber down")}
	last := &recordingSink{}
	job := newJob(t)

	err := Fanout{first, broken, last}.Publish(context.Background(), job.DomainEvents())
	if !errors.Is(err, broken.err) {
		t.Errorf("Publish() error = %v, want %v", err, broken.err)
	}
	if len(first.got) != 2 || len(last.got) != 2 {
		t.Errorf("healthy sinks got %d and %d events, want 2 each", len(first.got), len(last.got))
	}

	if err := (Fanout{first}).Publish(context.Background(), nil); err != nil {
		t.Errorf("single sink: unexpected error %v", err)
	}
}
