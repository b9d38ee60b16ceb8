package aggregate_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/event"
	"github.com/modernice/mnemo/internal/bank"
)

type counter struct {
	aggregate.Base
	n int
}

type incremented struct{}

func (c *counter) DeclareHandlers(t *dispatch.Table) {
	dispatch.On(t, func(c *counter, _ incremented) { c.n++ })
}

func (c *counter) ResetState() { c.n = 0 }

func newCounter(t *testing.T) *counter {
	t.Helper()
	c := &counter{}
	if err := aggregate.Init(c, uuid.New(), aggregate.Dispatchers(dispatch.NewCache())); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	return c
}

func openAccount(t *testing.T) *bank.Account {
	t.Helper()
	a, err := bank.Open(uuid.New(), "bob", aggregate.Dispatchers(dispatch.NewCache()))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return a
}

func TestNext(t *testing.T) {
	a := openAccount(t)

	if err := a.Deposit(100); err != nil {
		t.Fatalf("Deposit() failed: %v", err)
	}
	if err := a.Withdraw(30); err != nil {
		t.Fatalf("Withdraw() failed: %v", err)
	}

	if a.Balance() != 70 {
		t.Errorf("Balance() should return %d; got %d", 70, a.Balance())
	}
	if a.AggregateVersion() != 3 {
		t.Errorf("AggregateVersion() should return %d; got %d", 3, a.AggregateVersion())
	}
	if a.CommittedVersion() != 0 {
		t.Errorf("CommittedVersion() should return %d; got %d", 0, a.CommittedVersion())
	}
	if diff := cmp.Diff([]int{1, 2, 3}, event.Versions(a.Changes())); diff != "" {
		t.Errorf("Changes() versions mismatch (-want +got):\n%s", diff)
	}

	a.Commit()

	if len(a.Changes()) != 0 {
		t.Errorf("Commit() should clear the changes")
	}
	if a.CommittedVersion() != 3 {
		t.Errorf("CommittedVersion() should return %d; got %d", 3, a.CommittedVersion())
	}
}

func TestNext_businessRuleNotApplied(t *testing.T) {
	a := openAccount(t)

	if err := a.Withdraw(10); !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("Withdraw() should fail with %q; got %v", bank.ErrInsufficientFunds, err)
	}
	if a.AggregateVersion() != 1 {
		t.Fatalf("a rejected operation should not record an event")
	}
}

func TestInit_twice(t *testing.T) {
	c := newCounter(t)

	if err := aggregate.Init(c, uuid.New()); !errors.Is(err, aggregate.ErrAlreadyInitialized) {
		t.Errorf("second Init() should fail with %q; got %v", aggregate.ErrAlreadyInitialized, err)
	}
	if err := aggregate.Initialize(c, aggregate.Empty); !errors.Is(err, aggregate.ErrAlreadyInitialized) {
		t.Errorf("Initialize() after Init() should fail with %q; got %v", aggregate.ErrAlreadyInitialized, err)
	}
}

func TestBase_ApplyEvent_notInitialized(t *testing.T) {
	var c counter

	err := c.ApplyEvent(event.New(uuid.New(), 1, incremented{}))
	if !errors.Is(err, aggregate.ErrNotInitialized) {
		t.Fatalf("ApplyEvent() should fail with %q; got %v", aggregate.ErrNotInitialized, err)
	}
}

func TestBase_ApplyEvent_invalid(t *testing.T) {
	c := newCounter(t)
	id := c.AggregateID()

	if _, err := aggregate.Next(c, incremented{}); err != nil {
		t.Fatalf("Next() failed: %v", err)
	}

	if err := c.ApplyEvent(event.New(id, 0, incremented{})); !errors.Is(err, aggregate.ErrInvalidVersion) {
		t.Errorf("applying version 0 should fail with %q; got %v", aggregate.ErrInvalidVersion, err)
	}

	var cerr *aggregate.ConsistencyError
	if err := c.ApplyEvent(event.New(id, 3, incremented{})); !errors.As(err, &cerr) || cerr.Kind != aggregate.InconsistentVersion {
		t.Errorf("applying a version gap should fail with an %s error; got %v", aggregate.InconsistentVersion, err)
	}
	if err := c.ApplyEvent(event.New(uuid.New(), 2, incremented{})); !errors.As(err, &cerr) || cerr.Kind != aggregate.InconsistentID {
		t.Errorf("applying an event of another aggregate should fail with an %s error; got %v", aggregate.InconsistentID, err)
	}

	if c.n != 1 || c.AggregateVersion() != 1 {
		t.Fatalf("rejected events should not be applied; n=%d version=%d", c.n, c.AggregateVersion())
	}
}

func TestInitialize(t *testing.T) {
	id := uuid.New()
	m := aggregate.Memento{
		Type:     reflect.TypeOf(&bank.Account{}),
		Snapshot: snapshot.New(id, 5, bank.AccountState{Owner: "bob", Balance: 50}),
		Events: []event.Event{
			event.New(id, 6, bank.Deposited{Amount: 10}),
			event.New(id, 7, bank.EmailSent{Subject: "hi"}),
		},
	}

	var a bank.Account
	if err := aggregate.Initialize(&a, m, aggregate.Dispatchers(dispatch.NewCache())); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if a.AggregateID() != id {
		t.Errorf("AggregateID() should return %s; got %s", id, a.AggregateID())
	}
	if a.AggregateVersion() != 7 || a.CommittedVersion() != 7 {
		t.Errorf("version should be 7; got %d (committed %d)", a.AggregateVersion(), a.CommittedVersion())
	}
	if a.Owner() != "bob" || a.Balance() != 60 || a.Communications() != 1 {
		t.Errorf("unexpected state: owner=%q balance=%d communications=%d", a.Owner(), a.Balance(), a.Communications())
	}
	if len(a.Changes()) != 0 {
		t.Errorf("replayed events should be committed")
	}
	if !a.Stream().IsTruncated() {
		t.Errorf("the stream of a snapshotted aggregate should be truncated")
	}

	if err := a.Deposit(5); err != nil {
		t.Fatalf("Deposit() failed: %v", err)
	}
	if diff := cmp.Diff([]int{8}, event.Versions(a.Changes())); diff != "" {
		t.Errorf("Changes() versions mismatch (-want +got):\n%s", diff)
	}
}

func TestInitialize_eventsOnly(t *testing.T) {
	id := uuid.New()
	m := aggregate.Memento{Events: []event.Event{
		event.New(id, 1, bank.Opened{Owner: "alice"}),
		event.New(id, 2, bank.Deposited{Amount: 10}),
	}}

	var a bank.Account
	if err := aggregate.Initialize(&a, m, aggregate.Dispatchers(dispatch.NewCache())); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	if a.AggregateID() != id {
		t.Errorf("the id should be taken from the first event")
	}
	if a.Stream().IsTruncated() {
		t.Errorf("a stream that starts at version 1 should not be truncated")
	}
	if a.Owner() != "alice" || a.Balance() != 10 {
		t.Errorf("unexpected state: owner=%q balance=%d", a.Owner(), a.Balance())
	}
}

func TestInitialize_typeMismatch(t *testing.T) {
	m := aggregate.Memento{
		Type:   reflect.TypeOf(&bank.SavingsAccount{}),
		Events: []event.Event{event.New(uuid.New(), 1, bank.Opened{})},
	}

	var a bank.Account
	if err := aggregate.Initialize(&a, m); !errors.Is(err, aggregate.ErrTypeMismatch) {
		t.Fatalf("Initialize() should fail with %q; got %v", aggregate.ErrTypeMismatch, err)
	}
}

func TestInitialize_gap(t *testing.T) {
	id := uuid.New()
	m := aggregate.Memento{Events: []event.Event{
		event.New(id, 1, bank.Opened{}),
		event.New(id, 3, bank.Deposited{Amount: 1}),
	}}

	var a bank.Account
	if err := aggregate.Initialize(&a, m, aggregate.Dispatchers(dispatch.NewCache())); !aggregate.IsConsistencyError(err) {
		t.Fatalf("Initialize() should fail with a consistency error; got %v", err)
	}
	if a.IsLive() {
		t.Fatalf("a failed Initialize() should not make the aggregate live")
	}
}

func TestReinitialize(t *testing.T) {
	a := openAccount(t)
	id := a.AggregateID()
	if err := a.Deposit(100); err != nil {
		t.Fatal(err)
	}

	m := aggregate.Memento{Events: []event.Event{
		event.New(id, 1, bank.Opened{Owner: "bob"}),
		event.New(id, 2, bank.Deposited{Amount: 7}),
		event.New(id, 3, bank.CallLogged{Minutes: 3}),
	}}

	if err := aggregate.Reinitialize(a, m); err != nil {
		t.Fatalf("Reinitialize() failed: %v", err)
	}

	if a.Balance() != 7 {
		t.Errorf("Reinitialize() should reset the state before replay; balance=%d", a.Balance())
	}
	if a.AggregateVersion() != 3 || len(a.Changes()) != 0 {
		t.Errorf("Reinitialize() should leave only committed events; version=%d changes=%d", a.AggregateVersion(), len(a.Changes()))
	}
}

func TestSavingsAccount(t *testing.T) {
	cache := dispatch.NewCache()
	s, err := bank.OpenSavings(uuid.New(), "carol", aggregate.Dispatchers(cache))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Deposit(10000); err != nil {
		t.Fatal(err)
	}
	if err := s.Accrue(150); err != nil {
		t.Fatal(err)
	}
	if err := s.SendEmail("statement"); err != nil {
		t.Fatal(err)
	}

	if s.Owner() != "carol" {
		t.Errorf("inherited Opened handler should set the owner; got %q", s.Owner())
	}
	if s.Balance() != 10150 || s.Interest() != 150 {
		t.Errorf("unexpected state: balance=%d interest=%d", s.Balance(), s.Interest())
	}
	if s.Communications() != 1 {
		t.Errorf("inherited interface handler should count communications; got %d", s.Communications())
	}

	snap, err := aggregate.Snapshot(s)
	if err != nil {
		t.Fatalf("Snapshot() failed: %v", err)
	}
	if snap.Version() != 4 {
		t.Errorf("snapshot version should be %d; got %d", 4, snap.Version())
	}

	var restored bank.SavingsAccount
	if err := aggregate.Initialize(&restored, aggregate.Memento{Snapshot: snap}, aggregate.Dispatchers(cache)); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if restored.Balance() != 10150 || restored.Interest() != 150 || restored.Owner() != "carol" {
		t.Errorf("restored state mismatch: balance=%d interest=%d owner=%q", restored.Balance(), restored.Interest(), restored.Owner())
	}
}

func TestSnapshot_unsupported(t *testing.T) {
	c := newCounter(t)
	if _, err := aggregate.Snapshot(c); !errors.Is(err, aggregate.ErrUnsupportedSnapshot) {
		t.Fatalf("Snapshot() should fail with %q; got %v", aggregate.ErrUnsupportedSnapshot, err)
	}
}

func TestBase_ConflictsWith(t *testing.T) {
	c := newCounter(t)
	if !c.ConflictsWith(nil, nil) {
		t.Errorf("ConflictsWith() should default to true")
	}

	a := openAccount(t)
	id := a.AggregateID()
	committed := []event.Event{event.New(id, 2, bank.Deposited{Amount: 1})}

	communication := []event.Event{event.New(id, 2, bank.EmailSent{}), event.New(id, 3, bank.CallLogged{})}
	if a.ConflictsWith(committed, communication) {
		t.Errorf("communication events should not conflict")
	}

	mixed := []event.Event{event.New(id, 2, bank.EmailSent{}), event.New(id, 3, bank.Withdrawn{Amount: 1})}
	if !a.ConflictsWith(committed, mixed) {
		t.Errorf("balance events should conflict")
	}
}

func TestNew(t *testing.T) {
	a, err := aggregate.New(reflect.TypeOf(&bank.Account{}))
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if _, ok := a.(*bank.Account); !ok {
		t.Fatalf("New() should return a *bank.Account; got %T", a)
	}
	if a.AggregateBase().IsLive() {
		t.Fatalf("New() should return an uninitialized aggregate")
	}

	for _, typ := range []reflect.Type{nil, reflect.TypeOf(bank.Account{}), reflect.TypeOf(&bank.Opened{})} {
		if _, err := aggregate.New(typ); !errors.Is(err, aggregate.ErrInvalidType) {
			t.Errorf("New(%v) should fail with %q; got %v", typ, aggregate.ErrInvalidType, err)
		}
	}
}

func TestValidateConsistency(t *testing.T) {
	id := uuid.New()
	events := []event.Event{
		event.New(id, 4, bank.Deposited{}),
		event.New(id, 5, bank.Deposited{}),
	}
	if err := aggregate.ValidateConsistency(id, 3, events); err != nil {
		t.Fatalf("ValidateConsistency() failed: %v", err)
	}

	err := aggregate.ValidateConsistency(id, 4, events)
	var cerr *aggregate.ConsistencyError
	if !errors.As(err, &cerr) || cerr.Kind != aggregate.InconsistentVersion || cerr.EventIndex != 0 {
		t.Fatalf("ValidateConsistency() should fail with an %s error at index 0; got %v", aggregate.InconsistentVersion, err)
	}

	reversed := []event.Event{events[0], event.New(id, 5, bank.Deposited{}, event.Time(events[0].Time().Add(-1)))}
	if err := aggregate.ValidateConsistency(id, 3, reversed); !errors.As(err, &cerr) || cerr.Kind != aggregate.InconsistentTime {
		t.Fatalf("ValidateConsistency() should fail with an %s error; got %v", aggregate.InconsistentTime, err)
	}
	if err := aggregate.ValidateConsistency(id, 3, reversed, aggregate.IgnoreTime(true)); err != nil {
		t.Fatalf("ValidateConsistency() with IgnoreTime should succeed; got %v", err)
	}
}

func TestConcurrencyError(t *testing.T) {
	err := error(&aggregate.ConcurrencyError{AggregateID: uuid.New(), Expected: 2, Actual: 3})
	if !aggregate.IsConcurrencyError(err) {
		t.Fatalf("IsConcurrencyError() should return true")
	}
	if aggregate.IsConcurrencyError(errors.New("foo")) {
		t.Fatalf("IsConcurrencyError() should return false for other errors")
	}
}
