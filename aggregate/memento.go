package aggregate

import (
	"reflect"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

// Memento is the bundle an aggregate is rebuilt from: an optional snapshot
// and the events that follow it.
type Memento struct {
	// Type is the runtime type of the aggregate.
	Type reflect.Type

	// Snapshot is the zero Snapshot if the aggregate is rebuilt from its
	// events alone.
	Snapshot snapshot.Snapshot

	// Events are the events after the snapshot, in version order.
	Events []event.Event
}

// Empty is the Memento of an aggregate that does not exist.
var Empty Memento

// NewMemento returns the Memento of an aggregate of type typ at maxVersion.
// A snapshot after maxVersion is dropped. Only the events after the snapshot
// and at or before maxVersion are kept.
func NewMemento(typ reflect.Type, snap snapshot.Snapshot, events []event.Event, maxVersion int) Memento {
	if !snap.IsZero() && snap.Version() > maxVersion {
		snap = snapshot.Snapshot{}
	}

	from := 1
	if !snap.IsZero() {
		from = snap.Version() + 1
	}

	var window []event.Event
	for _, evt := range events {
		if v := evt.Version(); v >= from && v <= maxVersion {
			window = append(window, evt)
		}
	}

	if snap.IsZero() && len(window) == 0 {
		return Empty
	}

	return Memento{
		Type:     typ,
		Snapshot: snap,
		Events:   window,
	}
}

// IsEmpty reports whether m represents an aggregate that does not exist.
func (m Memento) IsEmpty() bool {
	return m.Snapshot.IsZero() && len(m.Events) == 0
}

// HasSnapshot reports whether m carries a snapshot.
func (m Memento) HasSnapshot() bool {
	return !m.Snapshot.IsZero()
}

// AggregateID returns the id of the aggregate, or uuid.Nil if m is empty.
func (m Memento) AggregateID() uuid.UUID {
	if !m.Snapshot.IsZero() {
		return m.Snapshot.AggregateID()
	}
	if len(m.Events) > 0 {
		return m.Events[0].AggregateID()
	}
	return uuid.Nil
}

// Version returns the version the aggregate has after it was rebuilt from m.
func (m Memento) Version() int {
	if len(m.Events) > 0 {
		return m.Events[len(m.Events)-1].Version()
	}
	return m.Snapshot.Version()
}
