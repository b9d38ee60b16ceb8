// Package repository loads and saves event-sourced aggregates.
//
// A Repository rebuilds aggregates from the snapshots and events of a Backend
// and appends their uncommitted events under optimistic concurrency control.
// When a save fails because another writer appended events concurrently, the
// repository asks the aggregate whether the events truly conflict. If they
// don't, the aggregate is rebuilt from the new state, its events are
// re-versioned on top of it and the save is retried.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

// Repository is the aggregate repository.
type Repository struct {
	backend     Backend
	maxAttempts int
	backoff     RetryTrigger
	dispatchers *dispatch.Cache
	logger      *slog.Logger
	publisher   Publisher
	schedule    snapshot.Schedule
}

// New returns a Repository that uses the given Backend.
func New(b Backend, opts ...Option) *Repository {
	r := &Repository{
		backend:     b,
		maxAttempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dispatchers == nil {
		r.dispatchers = dispatch.Default
	}
	if r.logger == nil {
		r.logger = discardLogger()
	}
	return r
}

// GetMemento loads the Memento of the aggregate with the given id at
// maxVersion. It returns aggregate.Empty if the aggregate has neither a
// snapshot nor events at or before maxVersion.
func (r *Repository) GetMemento(ctx context.Context, id uuid.UUID, maxVersion int) (aggregate.Memento, error) {
	var (
		typ  reflect.Type
		snap snapshot.Snapshot
	)

	sf, err := r.backend.GetSnapshot(ctx, id, maxVersion)
	switch {
	case err == nil:
		if sf.Snapshot.Version() <= maxVersion {
			typ, snap = sf.Type, sf.Snapshot
		}
	case errors.Is(err, ErrNotFound):
	default:
		return aggregate.Empty, fmt.Errorf("get snapshot of %s: %w", id, err)
	}

	if !snap.IsZero() && snap.Version() == maxVersion {
		return aggregate.NewMemento(typ, snap, nil, maxVersion), nil
	}

	minVersion := 1
	if !snap.IsZero() {
		minVersion = snap.Version() + 1
	}

	ef, err := r.backend.GetEvents(ctx, id, minVersion, maxVersion)
	if err != nil {
		return aggregate.Empty, fmt.Errorf("get events of %s: %w", id, err)
	}
	if typ == nil {
		typ = ef.Type
	}

	return aggregate.NewMemento(typ, snap, ef.Events, maxVersion), nil
}

// Get returns the latest state of the aggregate with the given id, or
// ErrNotFound if it does not exist. The aggregate is allocated from the type
// that was stored with its events or snapshot.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (aggregate.Aggregate, error) {
	return r.GetVersion(ctx, id, Latest)
}

// GetVersion returns the aggregate with the given id at version maxVersion.
func (r *Repository) GetVersion(ctx context.Context, id uuid.UUID, maxVersion int) (aggregate.Aggregate, error) {
	m, err := r.GetMemento(ctx, id, maxVersion)
	if err != nil {
		return nil, err
	}
	if m.IsEmpty() {
		return nil, fmt.Errorf("aggregate %s: %w", id, ErrNotFound)
	}

	a, err := aggregate.New(m.Type)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s: %w", id, err)
	}

	if err := aggregate.Initialize(a, m, aggregate.Dispatchers(r.dispatchers)); err != nil {
		return nil, err
	}

	return a, nil
}

// Fetch returns the aggregate with the given id as an A. It fails with
// aggregate.ErrTypeMismatch if the stored aggregate is not an A.
//
//	acc, err := repository.Fetch[*bank.Account](ctx, repo, id)
func Fetch[A aggregate.Aggregate](ctx context.Context, r *Repository, id uuid.UUID) (A, error) {
	var zero A

	a, err := r.Get(ctx, id)
	if err != nil {
		return zero, err
	}

	typed, ok := a.(A)
	if !ok {
		return zero, fmt.Errorf("aggregate %s is a %T, not a %T: %w", id, a, zero, aggregate.ErrTypeMismatch)
	}

	return typed, nil
}

// Save appends the uncommitted events of a to the backend and commits them.
// Save is a no-op if a has no uncommitted events.
//
// If another writer appended events to the aggregate concurrently, Save loads
// these events and calls a.ConflictsWith. If the events conflict, Save
// returns the *aggregate.ConcurrencyError. Otherwise a is rebuilt from the
// new state of the aggregate, the uncommitted events are re-versioned to
// follow the concurrently appended events and applied again, and the save is
// retried, up to the configured number of attempts.
func (r *Repository) Save(ctx context.Context, a aggregate.Aggregate) error {
	b := a.AggregateBase()

	attempted := b.Changes()
	if len(attempted) == 0 {
		return nil
	}

	id := b.AggregateID()
	typ := reflect.TypeOf(a)
	oldVersion := b.CommittedVersion()

	for attempt := 1; ; attempt++ {
		frame := EventFrame{
			Type:            typ,
			AggregateID:     id,
			ExpectedVersion: attempted[0].Version() - 1,
			Events:          attempted,
		}

		err := r.backend.SaveEvents(ctx, frame)
		if err == nil {
			b.Commit()
			r.logger.Debug("saved events", "aggregate", id, "type", typ, "from", frame.ExpectedVersion+1, "to", frame.Version(), "attempt", attempt)
			r.publish(ctx, frame)
			r.snapshotIfScheduled(ctx, a, oldVersion)
			return nil
		}

		var cerr *aggregate.ConcurrencyError
		if !errors.As(err, &cerr) {
			return fmt.Errorf("save events of %s: %w", id, err)
		}

		if attempt >= r.maxAttempts {
			r.logger.Warn("giving up after concurrency conflicts", "aggregate", id, "attempts", attempt)
			return fmt.Errorf("save events of %s after %d attempts: %w", id, attempt, err)
		}

		if r.backoff != nil {
			if err := r.backoff.Wait(ctx, attempt); err != nil {
				return fmt.Errorf("wait for retry: %w", err)
			}
		}

		committed, err := r.backend.GetEvents(ctx, id, frame.ExpectedVersion+1, Latest)
		if err != nil {
			return fmt.Errorf("get concurrently committed events of %s: %w", id, err)
		}

		if len(committed.Events) == 0 || a.ConflictsWith(committed.Events, attempted) {
			return fmt.Errorf("save events of %s: %w", id, cerr)
		}

		newVersion := committed.Version()
		rebased, err := r.rebase(ctx, a, newVersion, attempted)
		if err != nil {
			return err
		}

		r.logger.Info(
			"rebased events after false concurrency conflict",
			"aggregate", id,
			"committed", event.Versions(committed.Events),
			"rebased", event.Versions(rebased),
			"attempt", attempt,
		)

		attempted = rebased
	}
}

// rebase rebuilds a at version v and applies the attempted events again,
// re-versioned to start at v+1.
func (r *Repository) rebase(ctx context.Context, a aggregate.Aggregate, v int, attempted []event.Event) ([]event.Event, error) {
	m, err := r.GetMemento(ctx, a.AggregateBase().AggregateID(), v)
	if err != nil {
		return nil, fmt.Errorf("rebase: %w", err)
	}

	if err := aggregate.Reinitialize(a, m); err != nil {
		return nil, fmt.Errorf("rebase: %w", err)
	}

	rebased := make([]event.Event, len(attempted))
	for i, evt := range attempted {
		rebased[i] = evt.WithVersion(v + i + 1)
		if err := a.AggregateBase().ApplyEvent(rebased[i]); err != nil {
			return nil, fmt.Errorf("rebase: apply %T event: %w", evt.Data(), err)
		}
	}

	return rebased, nil
}

// SaveSnapshot takes a snapshot of a and saves it. SaveSnapshot returns an
// error that wraps aggregate.ErrUnsupportedSnapshot if a does not take
// snapshots.
func (r *Repository) SaveSnapshot(ctx context.Context, a aggregate.Aggregate) error {
	snap, err := aggregate.Snapshot(a)
	if err != nil {
		return err
	}

	b := a.AggregateBase()
	frame := SnapshotFrame{
		Type:        reflect.TypeOf(a),
		AggregateID: b.AggregateID(),
		Snapshot:    snap,
		IsNew:       b.Stream().StartVersion() == 1,
	}

	if err := r.backend.SaveSnapshot(ctx, frame); err != nil {
		return fmt.Errorf("save snapshot of %s at version %d: %w", frame.AggregateID, snap.Version(), err)
	}

	return nil
}

func (r *Repository) publish(ctx context.Context, frame EventFrame) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.Publish(ctx, frame); err != nil {
		r.logger.Error("publish events", "aggregate", frame.AggregateID, "error", err)
	}
}

func (r *Repository) snapshotIfScheduled(ctx context.Context, a aggregate.Aggregate, oldVersion int) {
	if r.schedule == nil || !r.schedule.Test(oldVersion, a.AggregateBase().AggregateVersion()) {
		return
	}
	if err := r.SaveSnapshot(ctx, a); err != nil && !errors.Is(err, aggregate.ErrUnsupportedSnapshot) {
		r.logger.Error("save scheduled snapshot", "aggregate", a.AggregateBase().AggregateID(), "error", err)
	}
}
