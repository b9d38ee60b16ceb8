// Package aggregate provides the event-sourced aggregate lifecycle.
//
// Aggregates embed Base and declare their apply handlers in a dispatch.Table:
//
//	type Account struct {
//		aggregate.Base
//		balance int
//	}
//
//	func (a *Account) DeclareHandlers(t *dispatch.Table) {
//		dispatch.On(t, (*Account).deposited)
//	}
//
//	func (a *Account) ResetState() { a.balance = 0 }
//
//	func (a *Account) Deposit(amount int) error {
//		_, err := aggregate.Next(a, Deposited{Amount: amount})
//		return err
//	}
//
// An aggregate is live after it was created with Init or rehydrated from a
// Memento with Initialize. Business methods record new events with Next or
// Base.ApplyEvent. The repository persists the uncommitted events and commits
// them.
package aggregate

import (
	"fmt"
	"reflect"

	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
)

// Aggregate is an event-sourced entity. Implementations embed Base, which
// provides every method except DeclareHandlers and ResetState.
type Aggregate interface {
	dispatch.Declarer

	// AggregateBase returns the embedded Base.
	AggregateBase() *Base

	// ResetState resets the business state of the aggregate to the state of
	// a freshly allocated instance. ResetState is called before the
	// aggregate is rebuilt from another Memento.
	ResetState()

	// TakeSnapshot captures the current state of the aggregate. It returns
	// false if the aggregate does not support snapshots.
	TakeSnapshot() (snapshot.Snapshot, bool)

	// ConflictsWith reports whether the attempted events truly conflict with
	// the events that another writer committed concurrently. If it returns
	// false, the repository rebases the attempted events onto the committed
	// events and retries the save.
	ConflictsWith(committed, attempted []event.Event) bool
}

// Option is an option for Init and Initialize.
type Option func(*initConfig)

type initConfig struct {
	dispatchers *dispatch.Cache
}

// Dispatchers returns an Option that resolves the apply handlers of the
// aggregate from the given Cache instead of dispatch.Default.
func Dispatchers(c *dispatch.Cache) Option {
	return func(cfg *initConfig) {
		cfg.dispatchers = c
	}
}

func newInitConfig(opts []Option) initConfig {
	var cfg initConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.dispatchers == nil {
		cfg.dispatchers = dispatch.Default
	}
	return cfg
}

// New allocates an uninitialized aggregate of the runtime type typ without
// running any business constructor. typ must be a pointer to a struct type
// that implements Aggregate.
func New(typ reflect.Type) (Aggregate, error) {
	if typ == nil || typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %v is not a pointer to a struct", ErrInvalidType, typ)
	}
	a, ok := reflect.New(typ.Elem()).Interface().(Aggregate)
	if !ok {
		return nil, fmt.Errorf("%w: %v does not implement Aggregate", ErrInvalidType, typ)
	}
	return a, nil
}

// Init makes the freshly allocated aggregate a live aggregate with the given
// id. Business constructors call Init before they record the first event.
//
//	func Open(id uuid.UUID, owner string) (*Account, error) {
//		a := &Account{}
//		if err := aggregate.Init(a, id); err != nil {
//			return nil, err
//		}
//		if _, err := aggregate.Next(a, Opened{Owner: owner}); err != nil {
//			return nil, err
//		}
//		return a, nil
//	}
func Init(a Aggregate, id uuid.UUID, opts ...Option) error {
	b := a.AggregateBase()
	if b.state != uninitialized {
		return ErrAlreadyInitialized
	}
	cfg := newInitConfig(opts)
	b.bind(a, cfg.dispatchers)
	b.id = id
	b.state = live
	return nil
}

// Initialize rehydrates the freshly allocated aggregate from m. The snapshot
// of m is applied first and the events of m are applied in order. All
// replayed events are committed. Initialize fails with ErrAlreadyInitialized
// if a was already initialized.
func Initialize(a Aggregate, m Memento, opts ...Option) error {
	b := a.AggregateBase()
	if b.state != uninitialized {
		return ErrAlreadyInitialized
	}
	if m.Type != nil && m.Type != reflect.TypeOf(a) {
		return fmt.Errorf("%w: memento of %v used for %T", ErrTypeMismatch, m.Type, a)
	}

	cfg := newInitConfig(opts)
	b.bind(a, cfg.dispatchers)

	b.state = initializing
	if err := b.replay(m); err != nil {
		return fmt.Errorf("initialize %T from memento: %w", a, err)
	}
	b.state = live

	return nil
}

// Reinitialize discards the state and the event stream of the live aggregate
// a and rebuilds it from m. The business state is reset with ResetState
// before the replay.
func Reinitialize(a Aggregate, m Memento) error {
	b := a.AggregateBase()
	if b.state != live {
		return ErrNotInitialized
	}
	if m.Type != nil && m.Type != reflect.TypeOf(a) {
		return fmt.Errorf("%w: memento of %v used for %T", ErrTypeMismatch, m.Type, a)
	}

	a.ResetState()
	b.stream.Reset()
	b.version = 0

	b.state = initializing
	if err := b.replay(m); err != nil {
		return fmt.Errorf("reinitialize %T from memento: %w", a, err)
	}
	b.state = live

	return nil
}

// Next creates the next event of a with the given data, applies it and
// returns it.
//
//	evt, err := aggregate.Next(a, Deposited{Amount: 100})
func Next(a Aggregate, data event.Data, opts ...event.Option) (event.Event, error) {
	b := a.AggregateBase()
	evt := event.New(b.AggregateID(), b.AggregateVersion()+1, data, opts...)
	if err := b.ApplyEvent(evt); err != nil {
		return event.Event{}, err
	}
	return evt, nil
}

// Capture returns a snapshot of a at its current version with the given
// state. Aggregates that support snapshots use Capture to implement
// TakeSnapshot.
//
//	func (a *Account) TakeSnapshot() (snapshot.Snapshot, bool) {
//		return aggregate.Capture(a, AccountState{Balance: a.balance}), true
//	}
func Capture(a Aggregate, state any, opts ...snapshot.Option) snapshot.Snapshot {
	b := a.AggregateBase()
	return snapshot.New(b.AggregateID(), b.AggregateVersion(), state, opts...)
}

// Snapshot returns the snapshot of a, or ErrUnsupportedSnapshot if a does not
// take snapshots.
func Snapshot(a Aggregate) (snapshot.Snapshot, error) {
	snap, ok := a.TakeSnapshot()
	if !ok {
		return snapshot.Snapshot{}, fmt.Errorf("%T: %w", a, ErrUnsupportedSnapshot)
	}
	return snap, nil
}
