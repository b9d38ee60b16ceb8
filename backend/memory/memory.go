// Package memory provides an in-memory repository.Backend. A single mutex
// guards the whole store and serializes all writes.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

var _ repository.Backend = (*Backend)(nil)

// Backend is a thread-safe in-memory repository.Backend.
type Backend struct {
	mux       sync.Mutex
	policy    repository.SnapshotPolicy
	streams   map[uuid.UUID]*stream
	snapshots map[uuid.UUID][]repository.SnapshotFrame
}

type stream struct {
	typ    reflect.Type
	events []event.Event
}

// Option is a Backend option.
type Option func(*Backend)

// WithSnapshotPolicy returns an Option that sets the SnapshotPolicy of the
// Backend. Defaults to repository.Overwrite.
func WithSnapshotPolicy(p repository.SnapshotPolicy) Option {
	return func(b *Backend) {
		b.policy = p
	}
}

// New returns an empty in-memory Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		streams:   make(map[uuid.UUID]*stream),
		snapshots: make(map[uuid.UUID][]repository.SnapshotFrame),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// GetEvents returns the events of the aggregate in [minVersion, maxVersion].
func (b *Backend) GetEvents(ctx context.Context, id uuid.UUID, minVersion, maxVersion int) (repository.EventFrame, error) {
	if err := ctx.Err(); err != nil {
		return repository.EventFrame{}, err
	}

	b.mux.Lock()
	defer b.mux.Unlock()

	frame := repository.EventFrame{AggregateID: id}

	s, ok := b.streams[id]
	if !ok {
		return frame, nil
	}
	frame.Type = s.typ

	for _, evt := range s.events {
		if v := evt.Version(); v >= minVersion && v <= maxVersion {
			frame.Events = append(frame.Events, evt)
		}
	}

	return frame, nil
}

// SaveEvents appends the events of frame if the stored version of the
// aggregate equals frame.ExpectedVersion.
func (b *Backend) SaveEvents(ctx context.Context, frame repository.EventFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mux.Lock()
	defer b.mux.Unlock()

	s, ok := b.streams[frame.AggregateID]
	if !ok {
		s = &stream{typ: frame.Type}
	}

	current := repository.NoStream
	if len(s.events) > 0 {
		current = s.events[len(s.events)-1].Version()
	}

	if current != frame.ExpectedVersion {
		return &aggregate.ConcurrencyError{
			AggregateID: frame.AggregateID,
			Expected:    frame.ExpectedVersion,
			Actual:      current,
		}
	}

	if err := aggregate.ValidateConsistency(frame.AggregateID, current, frame.Events); err != nil {
		return err
	}

	s.events = append(s.events, frame.Events...)
	b.streams[frame.AggregateID] = s

	return nil
}

// GetSnapshot returns the latest snapshot of the aggregate at or before
// maxVersion.
func (b *Backend) GetSnapshot(ctx context.Context, id uuid.UUID, maxVersion int) (repository.SnapshotFrame, error) {
	if err := ctx.Err(); err != nil {
		return repository.SnapshotFrame{}, err
	}

	b.mux.Lock()
	defer b.mux.Unlock()

	frames := b.snapshots[id]
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Snapshot.Version() <= maxVersion {
			return frames[i], nil
		}
	}

	return repository.SnapshotFrame{}, fmt.Errorf("snapshot of %s: %w", id, repository.ErrNotFound)
}

// SaveSnapshot stores the snapshot of frame according to the SnapshotPolicy
// of the Backend.
func (b *Backend) SaveSnapshot(ctx context.Context, frame repository.SnapshotFrame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mux.Lock()
	defer b.mux.Unlock()

	frames := b.snapshots[frame.AggregateID]
	v := frame.Snapshot.Version()

	i := sort.Search(len(frames), func(i int) bool {
		return frames[i].Snapshot.Version() >= v
	})

	if i < len(frames) && frames[i].Snapshot.Version() == v {
		if b.policy == repository.RejectResave {
			return fmt.Errorf("snapshot of %s at version %d: %w", frame.AggregateID, v, repository.ErrSnapshotExists)
		}
		frames[i] = frame
		return nil
	}

	frames = append(frames, repository.SnapshotFrame{})
	copy(frames[i+1:], frames[i:])
	frames[i] = frame
	b.snapshots[frame.AggregateID] = frames

	return nil
}

// Snapshots returns the stored snapshots of the aggregate in version order.
func (b *Backend) Snapshots(id uuid.UUID) []snapshot.Snapshot {
	b.mux.Lock()
	defer b.mux.Unlock()

	out := make([]snapshot.Snapshot, len(b.snapshots[id]))
	for i, f := range b.snapshots[id] {
		out[i] = f.Snapshot
	}
	return out
}
