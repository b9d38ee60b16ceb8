package aggregate

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/aggregate/stream"
	"github.com/modernice/mnemo/event"
)

type lifecycle int

const (
	uninitialized = lifecycle(iota)
	initializing
	live
)

// Base is embedded by value into aggregates and implements the lifecycle
// part of the Aggregate interface.
type Base struct {
	id      uuid.UUID
	version int
	state   lifecycle
	stream  stream.Stream

	self       Aggregate
	dispatcher *dispatch.Dispatcher
}

// AggregateBase returns b.
func (b *Base) AggregateBase() *Base {
	return b
}

// AggregateID returns the id of the aggregate.
func (b *Base) AggregateID() uuid.UUID {
	return b.id
}

// AggregateVersion returns the version of the last applied event, including
// uncommitted events.
func (b *Base) AggregateVersion() int {
	return b.version
}

// CommittedVersion returns the version of the last persisted event.
func (b *Base) CommittedVersion() int {
	if c := b.stream.CommittedVersion(); c > 0 {
		return c
	}
	// the stream is empty or only holds uncommitted events; everything
	// before it was committed
	if start := b.stream.StartVersion(); start > 0 {
		return start - 1
	}
	return b.version
}

// IsLive reports whether the aggregate completed its initialization.
func (b *Base) IsLive() bool {
	return b.state == live
}

// Stream returns the event stream of the aggregate. The stream must not be
// appended to directly; use ApplyEvent.
func (b *Base) Stream() *stream.Stream {
	return &b.stream
}

// Changes returns the uncommitted events.
func (b *Base) Changes() []event.Event {
	return b.stream.Uncommitted()
}

// Commit marks all events as persisted.
func (b *Base) Commit() {
	b.stream.Commit()
}

// CommitUpTo marks the events up to version v as persisted.
func (b *Base) CommitUpTo(v int) {
	b.stream.CommitUpTo(v)
}

// TakeSnapshot returns false. Aggregates that support snapshots override
// TakeSnapshot.
func (b *Base) TakeSnapshot() (snapshot.Snapshot, bool) {
	return snapshot.Snapshot{}, false
}

// ConflictsWith returns true. Aggregates override ConflictsWith to allow
// concurrently recorded events to be merged.
func (b *Base) ConflictsWith(committed, attempted []event.Event) bool {
	return true
}

// ApplyEvent applies evt to the live aggregate and records it as uncommitted.
// The version of evt must directly follow the version of the aggregate.
func (b *Base) ApplyEvent(evt event.Event) error {
	if b.state != live {
		return ErrNotInitialized
	}
	return b.apply(evt)
}

func (b *Base) bind(a Aggregate, dispatchers *dispatch.Cache) {
	b.self = a
	b.dispatcher = dispatchers.For(a)
}

func (b *Base) replay(m Memento) error {
	if !m.Snapshot.IsZero() {
		if b.id != uuid.Nil && m.Snapshot.AggregateID() != b.id {
			return fmt.Errorf("snapshot of aggregate %s: %w", m.Snapshot.AggregateID(), &ConsistencyError{
				Kind:           InconsistentID,
				AggregateID:    b.id,
				CurrentVersion: b.version,
			})
		}
		b.dispatcher.ApplySnapshot(b.self, m.Snapshot.Data())
		b.id = m.Snapshot.AggregateID()
		b.version = m.Snapshot.Version()
	}

	for _, evt := range m.Events {
		if err := b.apply(evt); err != nil {
			return err
		}
	}

	b.stream.Commit()

	return nil
}

func (b *Base) apply(evt event.Event) error {
	if evt.Version() < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidVersion, evt.Version())
	}

	id, current := b.id, b.version
	if id == uuid.Nil {
		id = evt.AggregateID()
	}
	if current == 0 && b.stream.Len() == 0 {
		current = evt.Version() - 1
	}
	if err := ValidateConsistency(id, current, []event.Event{evt}); err != nil {
		return err
	}

	if err := b.stream.Append(evt); err != nil {
		return err
	}
	b.dispatcher.ApplyEvent(b.self, evt.Data())
	b.id = id
	b.version = evt.Version()

	return nil
}
