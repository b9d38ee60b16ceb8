// Package backendtest provides the conformance tests of repository.Backend
// implementations.
package backendtest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/aggregate/snapshot"
	"github.com/modernice/mnemo/codec"
	"github.com/modernice/mnemo/event"
	"github.com/modernice/mnemo/internal/bank"
	"golang.org/x/sync/errgroup"
)

// Factory creates an empty repository.Backend that encodes payloads with c
// and treats re-saved snapshots according to policy.
type Factory func(t *testing.T, c *codec.Codec, policy repository.SnapshotPolicy) repository.Backend

// NewCodec returns the Codec used by Run. The bank domain is registered.
func NewCodec() *codec.Codec {
	return codec.New(bank.NewRegistry())
}

var accountType = reflect.TypeOf(&bank.Account{})

// Run tests a repository.Backend implementation.
func Run(t *testing.T, name string, newBackend Factory) {
	t.Run(name, func(t *testing.T) {
		run(t, "SaveEvents", newBackend, testSaveEvents)
		run(t, "Conflict", newBackend, testConflict)
		run(t, "ConcurrentWriters", newBackend, testConcurrentWriters)
		run(t, "GetEvents", newBackend, testGetEvents)
		run(t, "Snapshots", newBackend, testSnapshots)
		run(t, "SnapshotOverwrite", newBackend, testSnapshotOverwrite)
		run(t, "SnapshotRejectResave", newBackend, testSnapshotRejectResave)
		run(t, "Repository", newBackend, testRepository)
	})
}

func run(t *testing.T, name string, newBackend Factory, runner func(*testing.T, Factory)) {
	t.Run(name, func(t *testing.T) {
		runner(t, newBackend)
	})
}

func makeEvents(id uuid.UUID, from int, data ...any) []event.Event {
	events := make([]event.Event, len(data))
	for i, d := range data {
		events[i] = event.New(id, from+i, d)
	}
	return events
}

func save(t *testing.T, b repository.Backend, id uuid.UUID, expected int, events []event.Event) {
	t.Helper()
	if err := b.SaveEvents(context.Background(), repository.EventFrame{
		Type:            accountType,
		AggregateID:     id,
		ExpectedVersion: expected,
		Events:          events,
	}); err != nil {
		t.Fatalf("SaveEvents() failed: %v", err)
	}
}

// AssertEqualEvents fails t if want and got differ.
func AssertEqualEvents(t *testing.T, want, got []event.Event) {
	t.Helper()
	if len(want) != len(got) {
		t.Fatalf("expected %d events; got %d\n\nwant: %v\n\ngot: %v", len(want), len(got), event.Versions(want), event.Versions(got))
	}
	for i := range want {
		if !event.Equal(want[i], got[i]) {
			t.Errorf("event #%d mismatch\n\nwant: %#v\n\ngot: %#v", i, want[i], got[i])
		}
	}
}

func testSaveEvents(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	ctx := context.Background()
	id := uuid.New()

	first := makeEvents(id, 1, bank.Opened{Owner: "bob"}, bank.Deposited{Amount: 10})
	save(t, b, id, repository.NoStream, first)

	second := makeEvents(id, 3, bank.Withdrawn{Amount: 4})
	save(t, b, id, 2, second)

	frame, err := b.GetEvents(ctx, id, 1, repository.Latest)
	if err != nil {
		t.Fatalf("GetEvents() failed: %v", err)
	}

	if frame.Type != accountType {
		t.Errorf("frame should carry the aggregate type %v; got %v", accountType, frame.Type)
	}
	if frame.AggregateID != id {
		t.Errorf("frame should carry the aggregate id %s; got %s", id, frame.AggregateID)
	}
	AssertEqualEvents(t, append(first, second...), frame.Events)
}

func testConflict(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	ctx := context.Background()
	id := uuid.New()

	save(t, b, id, repository.NoStream, makeEvents(id, 1, bank.Opened{}, bank.Deposited{Amount: 1}))

	tests := []struct {
		name     string
		expected int
		from     int
	}{
		{name: "new stream exists", expected: repository.NoStream, from: 1},
		{name: "stale", expected: 1, from: 2},
		{name: "ahead", expected: 5, from: 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.SaveEvents(ctx, repository.EventFrame{
				Type:            accountType,
				AggregateID:     id,
				ExpectedVersion: tt.expected,
				Events:          makeEvents(id, tt.from, bank.Deposited{Amount: 99}),
			})

			var cerr *aggregate.ConcurrencyError
			if !errors.As(err, &cerr) {
				t.Fatalf("SaveEvents() should fail with a *aggregate.ConcurrencyError; got %v", err)
			}
			if cerr.Expected != tt.expected || cerr.Actual != 2 {
				t.Errorf("ConcurrencyError should report expected=%d actual=2; got expected=%d actual=%d", tt.expected, cerr.Expected, cerr.Actual)
			}
		})
	}

	frame, err := b.GetEvents(ctx, id, 1, repository.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, event.Versions(frame.Events)); diff != "" {
		t.Errorf("failed saves should store nothing (-want +got):\n%s", diff)
	}
}

func testConcurrentWriters(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	ctx := context.Background()
	id := uuid.New()

	save(t, b, id, repository.NoStream, makeEvents(id, 1, bank.Opened{}))

	const writers = 8
	errs := make([]error, writers)

	var g errgroup.Group
	for i := 0; i < writers; i++ {
		i := i
		g.Go(func() error {
			errs[i] = b.SaveEvents(ctx, repository.EventFrame{
				Type:            accountType,
				AggregateID:     id,
				ExpectedVersion: 1,
				Events:          makeEvents(id, 2, bank.Deposited{Amount: i + 1}),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case aggregate.IsConcurrencyError(err):
		default:
			t.Errorf("SaveEvents() should either succeed or fail with a concurrency error; got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one concurrent writer should succeed; %d did", succeeded)
	}

	frame, err := b.GetEvents(ctx, id, 1, repository.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]int{1, 2}, event.Versions(frame.Events)); diff != "" {
		t.Errorf("stored versions mismatch (-want +got):\n%s", diff)
	}
}

func testGetEvents(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	ctx := context.Background()
	id := uuid.New()

	events := makeEvents(id, 1,
		bank.Opened{}, bank.Deposited{Amount: 1}, bank.EmailSent{Subject: "a"},
		bank.CallLogged{Minutes: 2}, bank.Withdrawn{Amount: 1},
	)
	save(t, b, id, repository.NoStream, events)

	frame, err := b.GetEvents(ctx, id, 2, 4)
	if err != nil {
		t.Fatalf("GetEvents() failed: %v", err)
	}
	AssertEqualEvents(t, events[1:4], frame.Events)

	unknown, err := b.GetEvents(ctx, uuid.New(), 1, repository.Latest)
	if err != nil {
		t.Fatalf("GetEvents() of an unknown aggregate should not fail; got %v", err)
	}
	if len(unknown.Events) != 0 {
		t.Errorf("GetEvents() of an unknown aggregate should return no events; got %d", len(unknown.Events))
	}
}

func saveSnapshot(b repository.Backend, snap snapshot.Snapshot) error {
	return b.SaveSnapshot(context.Background(), repository.SnapshotFrame{
		Type:        accountType,
		AggregateID: snap.AggregateID(),
		Snapshot:    snap,
	})
}

func testSnapshots(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	ctx := context.Background()
	id := uuid.New()

	if _, err := b.GetSnapshot(ctx, id, repository.Latest); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("GetSnapshot() without snapshots should fail with %q; got %v", repository.ErrNotFound, err)
	}

	snaps := []snapshot.Snapshot{
		snapshot.New(id, 3, bank.AccountState{Owner: "bob", Balance: 3}),
		snapshot.New(id, 6, bank.AccountState{Owner: "bob", Balance: 6}),
	}
	for _, snap := range snaps {
		if err := saveSnapshot(b, snap); err != nil {
			t.Fatalf("SaveSnapshot() failed: %v", err)
		}
	}

	tests := []struct {
		maxVersion int
		want       int
	}{
		{maxVersion: repository.Latest, want: 1},
		{maxVersion: 6, want: 1},
		{maxVersion: 5, want: 0},
		{maxVersion: 3, want: 0},
		{maxVersion: 2, want: -1},
	}

	for _, tt := range tests {
		frame, err := b.GetSnapshot(ctx, id, tt.maxVersion)
		if tt.want < 0 {
			if !errors.Is(err, repository.ErrNotFound) {
				t.Errorf("GetSnapshot(%d) should fail with %q; got %v", tt.maxVersion, repository.ErrNotFound, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("GetSnapshot(%d) failed: %v", tt.maxVersion, err)
			continue
		}
		if !snapshot.Equal(snaps[tt.want], frame.Snapshot) {
			t.Errorf("GetSnapshot(%d) should return the snapshot at version %d; got version %d", tt.maxVersion, snaps[tt.want].Version(), frame.Snapshot.Version())
		}
		if frame.Type != accountType {
			t.Errorf("snapshot frame should carry the aggregate type %v; got %v", accountType, frame.Type)
		}
	}
}

func testSnapshotOverwrite(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	id := uuid.New()

	if err := saveSnapshot(b, snapshot.New(id, 4, bank.AccountState{Balance: 1})); err != nil {
		t.Fatal(err)
	}
	resaved := snapshot.New(id, 4, bank.AccountState{Balance: 2})
	if err := saveSnapshot(b, resaved); err != nil {
		t.Fatalf("re-saving a snapshot should succeed with the Overwrite policy; got %v", err)
	}

	frame, err := b.GetSnapshot(context.Background(), id, repository.Latest)
	if err != nil {
		t.Fatal(err)
	}
	if !snapshot.Equal(resaved, frame.Snapshot) {
		t.Errorf("the re-saved snapshot should replace the old one")
	}
}

func testSnapshotRejectResave(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.RejectResave)
	id := uuid.New()

	original := snapshot.New(id, 4, bank.AccountState{Balance: 1})
	if err := saveSnapshot(b, original); err != nil {
		t.Fatal(err)
	}
	if err := saveSnapshot(b, snapshot.New(id, 4, bank.AccountState{Balance: 2})); !errors.Is(err, repository.ErrSnapshotExists) {
		t.Fatalf("re-saving a snapshot should fail with %q; got %v", repository.ErrSnapshotExists, err)
	}
	if err := saveSnapshot(b, snapshot.New(id, 5, bank.AccountState{Balance: 3})); err != nil {
		t.Fatalf("saving a snapshot at a new version should succeed; got %v", err)
	}

	frame, err := b.GetSnapshot(context.Background(), id, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !snapshot.Equal(original, frame.Snapshot) {
		t.Errorf("a rejected snapshot should not replace the stored one")
	}
}

func testRepository(t *testing.T, newBackend Factory) {
	b := newBackend(t, NewCodec(), repository.Overwrite)
	ctx := context.Background()
	cache := dispatch.NewCache()
	r := repository.New(b, repository.Dispatchers(cache))

	acc, err := bank.Open(uuid.New(), "bob", aggregate.Dispatchers(cache))
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Deposit(100); err != nil {
		t.Fatal(err)
	}
	if err := r.Save(ctx, acc); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := r.SaveSnapshot(ctx, acc); err != nil {
		t.Fatalf("SaveSnapshot() failed: %v", err)
	}

	first, err := repository.Fetch[*bank.Account](ctx, r, acc.AggregateID())
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	second, err := repository.Fetch[*bank.Account](ctx, r, acc.AggregateID())
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}

	if err := first.Withdraw(10); err != nil {
		t.Fatal(err)
	}
	if err := second.SendEmail("statement"); err != nil {
		t.Fatal(err)
	}

	if err := r.Save(ctx, first); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if err := r.Save(ctx, second); err != nil {
		t.Fatalf("Save() of a non-conflicting change should succeed after a retry; got %v", err)
	}

	got, err := repository.Fetch[*bank.Account](ctx, r, acc.AggregateID())
	if err != nil {
		t.Fatal(err)
	}
	if got.AggregateVersion() != 4 || got.Balance() != 90 || got.Communications() != 1 {
		t.Fatalf("unexpected state: version=%d balance=%d communications=%d", got.AggregateVersion(), got.Balance(), got.Communications())
	}
}
