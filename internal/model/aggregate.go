// Package model defines the site discovery, rebuild and deployment domain:
// value objects, the three aggregate roots and the events they emit.
//
// Aggregates are single-writer objects. Callers serialize access to one
// instance, persist its snapshot, then drain DomainEvents.
package model

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// now is the clock used for timestamps. Tests replace it.
var now = func() time.Time { return time.Now().UTC() }

// NewID returns a time-sortable identifier for aggregates and entities.
func NewID() string {
	return strings.ToLower(ulid.Make().String())
}

const elementIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// newElementID returns a six character id in the style Bricks uses for
// element ids.
func newElementID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		panic("model: crypto/rand failed: " + err.Error())
	}
	for i := range buf {
		buf[i] = elementIDAlphabet[int(buf[i])%len(elementIDAlphabet)]
	}
	return string(buf)
}

// aggregateRoot holds identity, versioning and the pending event list.
// Embedded by SiteAnalysis, SiteRebuild and DeploymentJob.
type aggregateRoot struct {
	id        string
	kind      string
	version   int
	createdAt time.Time
	updatedAt time.Time
	events    []DomainEvent
}

func newAggregateRoot(kind string) aggregateRoot {
	t := now()
	return aggregateRoot{
		id:        NewID(),
		kind:      kind,
		createdAt: t,
		updatedAt: t,
	}
}

// ID returns the aggregate id.
func (a *aggregateRoot) ID() string { return a.id }

// Version returns the optimistic-concurrency version.
func (a *aggregateRoot) Version() int { return a.version }

// CreatedAt returns the creation time.
func (a *aggregateRoot) CreatedAt() time.Time { return a.createdAt }

// UpdatedAt returns the time of the last mutation.
func (a *aggregateRoot) UpdatedAt() time.Time { return a.updatedAt }

// DomainEvents returns the events recorded since the last clear.
func (a *aggregateRoot) DomainEvents() []DomainEvent {
	out := make([]DomainEvent, len(a.events))
	copy(out, a.events)
	return out
}

// ClearDomainEvents drops recorded events. Call after the snapshot has
// been persisted and the events handed to a sink.
func (a *aggregateRoot) ClearDomainEvents() {
	a.events = nil
}

func (a *aggregateRoot) touch() {
	a.updatedAt = now()
}

func (a *aggregateRoot) bumpVersion() {
	a.version++
	a.touch()
}

func (a *aggregateRoot) record(eventType EventType, payload any) {
	a.events = append(a.events, newDomainEvent(eventType, a.id, a.kind, a.version, payload))
}
