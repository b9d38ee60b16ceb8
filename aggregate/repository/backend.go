package repository

//go:generate mockgen -source=backend.go -destination=./mocks/backend.go

import (
	"context"
	"errors"
	"math"
	"reflect"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

const (
	// NoStream is the expected version of an aggregate that has no stored
	// events yet.
	NoStream = 0

	// Latest is the version to pass as maxVersion to load the latest state
	// of an aggregate.
	Latest = math.MaxInt
)

var (
	// ErrNotFound is returned by Get if the aggregate does not exist and by
	// SnapshotStore.GetSnapshot if the aggregate has no snapshot.
	ErrNotFound = errors.New("not found")

	// ErrSnapshotExists is returned by snapshot stores with the RejectResave
	// policy when a snapshot is saved at an already snapshotted version.
	ErrSnapshotExists = errors.New("snapshot already exists")
)

// EventFrame is the unit of event persistence: the events of a single
// aggregate.
type EventFrame struct {
	// Type is the runtime type of the aggregate. It is nil in frames of
	// aggregates that have no events.
	Type reflect.Type

	AggregateID uuid.UUID

	// ExpectedVersion is the version the stored aggregate must have for the
	// save to succeed. It is ignored when loading.
	ExpectedVersion int

	Events []event.Event
}

// Version returns the version of the last event, or ExpectedVersion if the
// frame has no events.
func (f EventFrame) Version() int {
	if len(f.Events) == 0 {
		return f.ExpectedVersion
	}
	return f.Events[len(f.Events)-1].Version()
}

// SnapshotFrame is the unit of snapshot persistence.
type SnapshotFrame struct {
	Type        reflect.Type
	AggregateID uuid.UUID
	Snapshot    snapshot.Snapshot

	// IsNew reports whether the event history of the aggregate starts at
	// version 1 in the snapshotting process, which means the store has no
	// earlier snapshot of it.
	IsNew bool
}

// EventStore provides the event primitives of a Backend.
type EventStore interface {
	// GetEvents returns the events of the aggregate with a version in
	// [minVersion, maxVersion], in version order. An aggregate without
	// events yields an empty frame.
	GetEvents(ctx context.Context, id uuid.UUID, minVersion, maxVersion int) (EventFrame, error)

	// SaveEvents atomically appends the events of frame if the stored
	// version of the aggregate equals frame.ExpectedVersion. Otherwise it
	// stores nothing and returns a *aggregate.ConcurrencyError.
	SaveEvents(ctx context.Context, frame EventFrame) error
}

// SnapshotStore provides the snapshot primitives of a Backend.
type SnapshotStore interface {
	// GetSnapshot returns the latest snapshot of the aggregate with a
	// version <= maxVersion, or ErrNotFound.
	GetSnapshot(ctx context.Context, id uuid.UUID, maxVersion int) (SnapshotFrame, error)

	// SaveSnapshot stores the snapshot of frame. How a second snapshot at
	// the same version is treated depends on the SnapshotPolicy of the store.
	SaveSnapshot(ctx context.Context, frame SnapshotFrame) error
}

// Backend is the storage of a Repository.
type Backend interface {
	EventStore
	SnapshotStore
}

// Publisher is notified about every successfully saved EventFrame, for
// example to feed a message bus or projections.
type Publisher interface {
	Publish(ctx context.Context, frame EventFrame) error
}

// SnapshotPolicy decides how a snapshot store treats a second snapshot of an
// aggregate at an already snapshotted version.
type SnapshotPolicy int

const (
	// Overwrite replaces the existing snapshot. Re-saving is idempotent.
	Overwrite = SnapshotPolicy(iota)

	// RejectResave fails with ErrSnapshotExists.
	RejectResave
)

func (p SnapshotPolicy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case RejectResave:
		return "reject-resave"
	default:
		return "<UnknownSnapshotPolicy>"
	}
}
