//go:build nats

package nats_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/modernice/mnemo/aggregate"
	"github.com/modernice/mnemo/aggregate/dispatch"
	"github.com/modernice/mnemo/aggregate/repository"
	"github.com/modernice/mnemo/backend/backendtest"
	"github.com/modernice/mnemo/backend/memory"
	"github.com/modernice/mnemo/backend/nats"
	"github.com/modernice/mnemo/event"
	"github.com/modernice/mnemo/internal/bank"
)

func TestBus_publishSavedEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bus := nats.New(backendtest.NewCodec(), nats.SubjectPrefix("mnemo-test."+uuid.NewString()))
	defer bus.Close()

	received := make(chan event.Event)
	errs, err := bus.Subscribe(ctx, event.HandlerFunc(func(ctx context.Context, events ...event.Event) error {
		for _, evt := range events {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case received <- evt:
			}
		}
		return nil
	}))
	if err != nil {
		t.Fatalf("Subscribe() failed: %v", err)
	}

	cache := dispatch.NewCache()
	r := repository.New(memory.New(), repository.Dispatchers(cache), repository.WithPublisher(bus))

	acc, err := bank.Open(uuid.New(), "bob", aggregate.Dispatchers(cache))
	if err != nil {
		t.Fatal(err)
	}
	if err := acc.Deposit(10); err != nil {
		t.Fatal(err)
	}
	want := acc.Changes()

	if err := r.Save(ctx, acc); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	var got []event.Event
	for len(got) < len(want) {
		select {
		case <-ctx.Done():
			t.Fatalf("received %d of %d events", len(got), len(want))
		case err := <-errs:
			t.Fatalf("subscription failed: %v", err)
		case evt := <-received:
			got = append(got, evt)
		}
	}

	backendtest.AssertEqualEvents(t, want, got)
	if diff := cmp.Diff([]int{1, 2}, event.Versions(got)); diff != "" {
		t.Errorf("events should arrive in version order (-want +got):\n%s", diff)
	}
}
